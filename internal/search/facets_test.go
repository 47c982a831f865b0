package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/isq/internal/index"
)

// fakeBackend answers every aggregation from a fixed table.
type fakeBackend struct {
	mu      sync.Mutex
	buckets map[index.Field][]index.Bucket
	err     error
	queries []index.Query
}

func (f *fakeBackend) Search(_ context.Context, q index.Query) (*index.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	res := &index.Result{Aggregations: map[index.Field][]index.Bucket{}}
	for _, field := range q.Aggregations {
		res.Aggregations[field] = restrict(f.buckets[field], q.Filters, field)
	}
	return res, nil
}

// restrict keeps the buckets allowed by a Terms filter on field, if any.
func restrict(buckets []index.Bucket, filters []index.Filter, field index.Field) []index.Bucket {
	for _, flt := range filters {
		if flt.Kind != index.FilterTerms || flt.Field != field {
			continue
		}
		var out []index.Bucket
		for _, b := range buckets {
			if slices.Contains(flt.Values, b.Value) {
				out = append(out, b)
			}
		}
		return out
	}
	return buckets
}

func (f *fakeBackend) Replace(context.Context, []index.Document) error { return nil }
func (f *fakeBackend) Close() error                                   { return nil }

// cappedBackend returns only the first limit buckets of each aggregation.
type cappedBackend struct {
	fakeBackend
	limit int
}

func (c *cappedBackend) Search(ctx context.Context, q index.Query) (*index.Result, error) {
	res, err := c.fakeBackend.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	for field, buckets := range res.Aggregations {
		if len(buckets) > c.limit {
			res.Aggregations[field] = buckets[:c.limit]
		}
	}
	return res, nil
}

func TestFacetValues_OrderAndTruncation(t *testing.T) {
	buckets := []index.Bucket{{Value: "b", Count: 2}, {Value: "a", Count: 2}, {Value: "c", Count: 5}, {Value: "d", Count: 1}}

	got := facetValues(buckets, nil, 3)
	assert.Equal(t, []FacetValue{{"c", 5}, {"a", 2}, {"b", 2}}, got)
}

func TestFacetValues_SelectedValuesAlwaysListed(t *testing.T) {
	buckets := []index.Bucket{{Value: "MAJOR", Count: 3}, {Value: "MINOR", Count: 1}}

	got := facetValues(buckets, []string{"MINOR", "BLOCKER", "MAJOR"}, 1)
	assert.Equal(t, []FacetValue{{"MAJOR", 3}, {"MINOR", 1}, {"BLOCKER", 0}}, got)
}

func TestFacetValues_Empty(t *testing.T) {
	assert.Equal(t, []FacetValue{}, facetValues(nil, nil, 15))
}

func TestAssembleFacets_KeepsRequestOrder(t *testing.T) {
	backend := &fakeBackend{buckets: map[index.Field][]index.Bucket{
		index.FieldStatus:   {{Value: "OPEN", Count: 2}},
		index.FieldSeverity: {{Value: "MAJOR", Count: 1}},
	}}
	queries := []FacetQuery{
		{Name: "statuses", Field: index.FieldStatus, Query: index.Query{Aggregations: []index.Field{index.FieldStatus}}},
		{Name: "severities", Field: index.FieldSeverity, Selected: []string{"BLOCKER"}, Query: index.Query{Aggregations: []index.Field{index.FieldSeverity}}},
	}

	facets, err := AssembleFacets(context.Background(), backend, queries, 15)
	require.NoError(t, err)
	assert.Equal(t, []Facet{
		{Property: "statuses", Values: []FacetValue{{"OPEN", 2}}},
		{Property: "severities", Values: []FacetValue{{"MAJOR", 1}, {"BLOCKER", 0}}},
	}, facets)
	require.Len(t, backend.queries, 3, "one count query for the unlisted BLOCKER")
	for _, q := range backend.queries {
		if len(q.Filters) == 0 {
			continue
		}
		assert.Equal(t, index.Terms(index.FieldSeverity, "BLOCKER"), q.Filters[len(q.Filters)-1])
		assert.Equal(t, 0, q.Limit)
	}
}

func TestAssembleFacets_CountsSelectedValuesPastBackendCap(t *testing.T) {
	// The backend caps its buckets at two, hiding the selected "u3".
	backend := &cappedBackend{fakeBackend: fakeBackend{buckets: map[index.Field][]index.Bucket{
		index.FieldComponentUUID: {{Value: "u1", Count: 9}, {Value: "u2", Count: 8}, {Value: "u3", Count: 4}},
	}}, limit: 2}
	queries := []FacetQuery{{
		Name:     "componentUuids",
		Field:    index.FieldComponentUUID,
		Selected: []string{"u3", "u4"},
		Query:    index.Query{Aggregations: []index.Field{index.FieldComponentUUID}},
	}}

	facets, err := AssembleFacets(context.Background(), backend, queries, 15)
	require.NoError(t, err)
	require.Len(t, facets, 1)
	assert.Equal(t, []FacetValue{{"u1", 9}, {"u2", 8}, {"u3", 4}, {"u4", 0}}, facets[0].Values)
}

func TestAssembleFacets_NoCountQueryWhenSelectedAreListed(t *testing.T) {
	backend := &fakeBackend{buckets: map[index.Field][]index.Bucket{
		index.FieldSeverity: {{Value: "MAJOR", Count: 1}},
	}}
	queries := []FacetQuery{{Name: "severities", Field: index.FieldSeverity, Selected: []string{"MAJOR"},
		Query: index.Query{Aggregations: []index.Field{index.FieldSeverity}}}}

	_, err := AssembleFacets(context.Background(), backend, queries, 15)
	require.NoError(t, err)
	assert.Len(t, backend.queries, 1)
}

func TestAssembleFacets_TypesenseTruncatedFacetCounts(t *testing.T) {
	var mu sync.Mutex
	var filterBys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filterBy := r.URL.Query().Get("filter_by")
		mu.Lock()
		filterBys = append(filterBys, filterBy)
		mu.Unlock()

		counts := []any{
			map[string]any{"count": 7, "value": "c1"},
			map[string]any{"count": 5, "value": "c2"},
		}
		if strings.Contains(filterBy, "c280") {
			counts = []any{map[string]any{"count": 2, "value": "c280"}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"found":        14,
			"hits":         []any{},
			"facet_counts": []any{map[string]any{"field_name": "component_uuid", "counts": counts}},
		})
	}))
	defer srv.Close()

	x, err := index.NewTypesenseIndex(index.TypesenseConfig{URL: srv.URL, APIKey: "k", Collection: "issues"})
	require.NoError(t, err)

	queries := []FacetQuery{{
		Name:     "componentUuids",
		Field:    index.FieldComponentUUID,
		Selected: []string{"c280"},
		Query: index.Query{
			Filters:      []index.Filter{index.Terms(index.FieldProjectUUID, "p1")},
			Aggregations: []index.Field{index.FieldComponentUUID},
		},
	}}
	facets, err := AssembleFacets(context.Background(), x, queries, 15)
	require.NoError(t, err)
	require.Len(t, facets, 1)
	assert.Equal(t, []FacetValue{{"c1", 7}, {"c2", 5}, {"c280", 2}}, facets[0].Values)

	require.Len(t, filterBys, 2)
	assert.Equal(t, "project_uuid:=[`p1`] && component_uuid:=[`c280`]", filterBys[1])
}

func TestAssembleFacets_FailsWhole(t *testing.T) {
	backend := &fakeBackend{err: errors.New("down")}
	queries := []FacetQuery{{Name: "statuses", Field: index.FieldStatus}}

	_, err := AssembleFacets(context.Background(), backend, queries, 15)
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "facet statuses", berr.Op)
}
