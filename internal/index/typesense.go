package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"
)

// missingValue stands for an absent keyword value, since Typesense cannot filter on nulls.
const missingValue = "__none__"

// typesenseBatch is the largest page Typesense returns per request.
const typesenseBatch = 250

// typesenseMaxSorts is the number of sort_by fields Typesense accepts.
const typesenseMaxSorts = 3

// TypesenseConfig configures a TypesenseIndex.
type TypesenseConfig struct {
	URL        string
	APIKey     string
	Collection string
}

// TypesenseIndex is a Backend stored in a Typesense collection.
type TypesenseIndex struct {
	client     *typesense.Client
	collection string
}

// NewTypesenseIndex creates a client for the configured server. No request is sent.
func NewTypesenseIndex(cfg TypesenseConfig) (*TypesenseIndex, error) {
	if cfg.URL == "" {
		return nil, errors.New("typesense url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "issues"
	}
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
	)
	return &TypesenseIndex{client: client, collection: cfg.Collection}, nil
}

func (x *TypesenseIndex) Close() error {
	return nil
}

func (x *TypesenseIndex) schema() *api.CollectionSchema {
	keyword := func(f Field) api.Field {
		return api.Field{Name: string(f), Type: "string", Facet: pointer.True(), Sort: pointer.True()}
	}
	fields := make([]api.Field, 0, len(KeywordFields)+7)
	for _, f := range KeywordFields {
		fields = append(fields, keyword(f))
	}
	fields = append(fields,
		api.Field{Name: string(FieldSeverityValue), Type: "int32"},
		api.Field{Name: string(FieldLine), Type: "int32"},
		api.Field{Name: string(FieldCreatedAt), Type: "int64"},
		api.Field{Name: string(FieldUpdatedAt), Type: "int64"},
		api.Field{Name: string(FieldClosedAt), Type: "int64", Optional: pointer.True()},
		api.Field{Name: "payload", Type: "string", Index: pointer.False(), Optional: pointer.True()},
	)
	return &api.CollectionSchema{Name: x.collection, Fields: fields}
}

func orMissing(s string) string {
	if s == "" {
		return missingValue
	}
	return s
}

func typesenseDocument(d *Document) (map[string]any, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", d.Key, err)
	}
	out := map[string]any{
		"id":                       d.Key,
		string(FieldSeverityValue): d.SeverityValue(),
		string(FieldLine):          d.Line,
		string(FieldCreatedAt):     d.CreatedAt.UnixMilli(),
		string(FieldUpdatedAt):     d.UpdatedAt.UnixMilli(),
		"payload":                  string(payload),
	}
	for _, f := range KeywordFields {
		out[string(f)] = orMissing(d.Value(f))
	}
	if d.ClosedAt != nil {
		out[string(FieldClosedAt)] = d.ClosedAt.UnixMilli()
	}
	return out, nil
}

// Replace drops and recreates the collection, then imports docs.
func (x *TypesenseIndex) Replace(ctx context.Context, docs []Document) error {
	// A missing collection is fine here.
	if _, err := x.client.Collection(x.collection).Delete(ctx); err != nil {
		slog.DebugContext(ctx, "drop typesense collection (may not exist)", "collection", x.collection, "err", err)
	}

	if _, err := x.client.Collections().Create(ctx, x.schema()); err != nil {
		return fmt.Errorf("create collection %s: %w", x.collection, err)
	}
	if len(docs) == 0 {
		return nil
	}

	batch := make([]interface{}, 0, len(docs))
	for i := range docs {
		doc, err := typesenseDocument(&docs[i])
		if err != nil {
			return err
		}
		batch = append(batch, doc)
	}

	slog.DebugContext(ctx, "importing documents into typesense", "collection", x.collection, "count", len(batch))
	results, err := x.client.Collection(x.collection).Documents().Import(ctx, batch, &api.ImportDocumentsParams{})
	if err != nil {
		return fmt.Errorf("import documents: %w", err)
	}
	for _, r := range results {
		if r != nil && !r.Success {
			return fmt.Errorf("import document: %s", r.Error)
		}
	}
	return nil
}

func quote(v string) string {
	return "`" + strings.ReplaceAll(v, "`", "") + "`"
}

// hasNone reports whether a top-level filter can never match.
func hasNone(filters []Filter) bool {
	for _, f := range filters {
		if f.Kind == FilterNone || (f.Kind == FilterOr && len(f.Or) == 0) || (f.Kind == FilterTerms && len(f.Values) == 0) {
			return true
		}
	}
	return false
}

// renderFilter turns f into filter_by syntax. ok is false for clauses that match nothing.
func renderFilter(f Filter) (expr string, ok bool, err error) {
	switch f.Kind {
	case FilterNone:
		return "", false, nil
	case FilterOr:
		var parts []string
		for _, sub := range f.Or {
			e, subOK, err := renderFilter(sub)
			if err != nil {
				return "", false, err
			}
			if subOK {
				parts = append(parts, e)
			}
		}
		if len(parts) == 0 {
			return "", false, nil
		}
		if len(parts) == 1 {
			return parts[0], true, nil
		}
		return "(" + strings.Join(parts, " || ") + ")", true, nil
	case FilterTerms:
		if len(f.Values) == 0 {
			return "", false, nil
		}
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = quote(orMissing(v))
		}
		return string(f.Field) + ":=[" + strings.Join(quoted, ",") + "]", true, nil
	case FilterExists:
		return string(f.Field) + ":!=" + quote(missingValue), true, nil
	case FilterMissing:
		return string(f.Field) + ":=" + quote(missingValue), true, nil
	case FilterRange:
		var parts []string
		if f.From != nil {
			parts = append(parts, string(f.Field)+":>="+strconv.FormatInt(f.From.UnixMilli(), 10))
		}
		if f.To != nil {
			parts = append(parts, string(f.Field)+":<"+strconv.FormatInt(f.To.UnixMilli(), 10))
		}
		if len(parts) == 0 {
			return "", true, nil
		}
		return strings.Join(parts, " && "), true, nil
	}
	return "", false, fmt.Errorf("unsupported filter kind %d", f.Kind)
}

// renderFilterBy AND's the top-level filters.
func renderFilterBy(filters []Filter) (string, error) {
	var parts []string
	for _, f := range filters {
		e, _, err := renderFilter(f)
		if err != nil {
			return "", err
		}
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, " && "), nil
}

// renderSortBy keeps the last sort (the tiebreaker) when more fields are requested than Typesense accepts.
func renderSortBy(sorts []Sort) string {
	if len(sorts) > typesenseMaxSorts {
		kept := append([]Sort{}, sorts[:typesenseMaxSorts-1]...)
		sorts = append(kept, sorts[len(sorts)-1])
	}
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		dir := "desc"
		if s.Asc {
			dir = "asc"
		}
		parts = append(parts, string(s.Field)+":"+dir)
	}
	return strings.Join(parts, ",")
}

func renderFacetBy(fields []Field) (string, error) {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if !IsKeyword(f) {
			return "", fmt.Errorf("cannot aggregate on %q", f)
		}
		names = append(names, string(f))
	}
	return strings.Join(names, ","), nil
}

func (x *TypesenseIndex) params(q Query, offset, limit int) (*api.SearchCollectionParams, error) {
	filterBy, err := renderFilterBy(q.Filters)
	if err != nil {
		return nil, err
	}
	p := &api.SearchCollectionParams{
		Q:       pointer.String("*"),
		QueryBy: pointer.String(string(FieldKey)),
		Offset:  pointer.Int(offset),
		Limit:   pointer.Int(limit),
	}
	if filterBy != "" {
		p.FilterBy = pointer.String(filterBy)
	}
	if sortBy := renderSortBy(q.Sorts); sortBy != "" {
		p.SortBy = pointer.String(sortBy)
	}
	return p, nil
}

// Search pages through Typesense in batches until q.Limit hits are collected.
// Aggregations are requested with the first batch only.
func (x *TypesenseIndex) Search(ctx context.Context, q Query) (*Result, error) {
	res := &Result{Aggregations: make(map[Field][]Bucket)}
	if hasNone(q.Filters) {
		for _, f := range q.Aggregations {
			res.Aggregations[f] = []Bucket{}
		}
		return res, nil
	}

	facetBy, err := renderFacetBy(q.Aggregations)
	if err != nil {
		return nil, err
	}

	offset := q.Offset
	remaining := q.Limit
	first := true
	for first || remaining > 0 {
		limit := remaining
		if limit > typesenseBatch {
			limit = typesenseBatch
		}
		params, err := x.params(q, offset, limit)
		if err != nil {
			return nil, err
		}
		if first && facetBy != "" {
			params.FacetBy = pointer.String(facetBy)
			maxValues := q.FacetSize
			if maxValues <= 0 {
				maxValues = typesenseBatch
			}
			params.MaxFacetValues = pointer.Int(maxValues)
		}

		sr, err := x.client.Collection(x.collection).Documents().Search(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("typesense search: %w", err)
		}
		if first {
			if sr.Found != nil {
				res.Total = *sr.Found
			}
			res.Aggregations = decodeFacets(sr, q.Aggregations)
		}
		first = false

		hits, err := decodeHits(sr)
		if err != nil {
			return nil, err
		}
		res.Hits = append(res.Hits, hits...)
		if len(hits) < limit {
			break
		}
		offset += len(hits)
		remaining -= len(hits)
	}
	return res, nil
}

func decodeHits(sr *api.SearchResult) ([]Document, error) {
	if sr.Hits == nil {
		return nil, nil
	}
	var docs []Document
	for _, hit := range *sr.Hits {
		if hit.Document == nil {
			continue
		}
		raw, _ := (*hit.Document)["payload"].(string)
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func decodeFacets(sr *api.SearchResult, fields []Field) map[Field][]Bucket {
	out := make(map[Field][]Bucket, len(fields))
	for _, f := range fields {
		out[f] = []Bucket{}
	}
	if sr.FacetCounts == nil {
		return out
	}
	for _, fc := range *sr.FacetCounts {
		if fc.FieldName == nil || fc.Counts == nil {
			continue
		}
		field := Field(*fc.FieldName)
		for _, c := range *fc.Counts {
			if c.Value == nil || c.Count == nil {
				continue
			}
			value := *c.Value
			if value == missingValue {
				value = ""
			}
			out[field] = append(out[field], Bucket{Value: value, Count: *c.Count})
		}
	}
	return out
}

var _ Backend = (*TypesenseIndex)(nil)
