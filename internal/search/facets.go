package search

import (
	"context"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/isq/internal/index"
)

// FacetValue is one entry of a facet.
type FacetValue struct {
	Val   string `json:"val"`
	Count int    `json:"count"`
}

// Facet is the distribution of matching issues over one field.
type Facet struct {
	Property string       `json:"property"`
	Values   []FacetValue `json:"values"`
}

// AssembleFacets runs every facet query concurrently and returns the facets in request order.
// Any failure cancels the others and fails the whole set.
func AssembleFacets(ctx context.Context, backend index.Backend, queries []FacetQuery, size int) ([]Facet, error) {
	facets := make([]Facet, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, fq := range queries {
		g.Go(func() error {
			res, err := backend.Search(gctx, fq.Query)
			if err != nil {
				return &BackendError{Op: "facet " + fq.Name, Err: err}
			}
			buckets := res.Aggregations[fq.Field]
			extra, err := countSelected(gctx, backend, fq, buckets)
			if err != nil {
				return &BackendError{Op: "facet " + fq.Name, Err: err}
			}
			facets[i] = Facet{
				Property: fq.Name,
				Values:   facetValues(append(slices.Clone(buckets), extra...), fq.Selected, size),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return facets, nil
}

// countSelected counts the selected values absent from buckets. A backend may cap the buckets
// it returns, so a selected value ranked past the cap is counted by a query restricted to it.
func countSelected(ctx context.Context, backend index.Backend, fq FacetQuery, buckets []index.Bucket) ([]index.Bucket, error) {
	listed := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		listed[b.Value] = true
	}
	var missing []string
	for _, v := range fq.Selected {
		if !listed[v] {
			missing = append(missing, v)
			listed[v] = true
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	q := fq.Query
	q.Filters = append(slices.Clone(q.Filters), index.Terms(fq.Field, missing...))
	q.Offset, q.Limit = 0, 0
	q.Aggregations = []index.Field{fq.Field}
	q.FacetSize = len(missing)
	res, err := backend.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	var extra []index.Bucket
	for _, b := range res.Aggregations[fq.Field] {
		if slices.Contains(missing, b.Value) {
			extra = append(extra, b)
		}
	}
	return extra, nil
}

// facetValues orders buckets by count desc then value, keeps the top size and appends every
// selected value not already listed, with its count or 0.
func facetValues(buckets []index.Bucket, selected []string, size int) []FacetValue {
	sorted := slices.Clone(buckets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Value < sorted[j].Value
	})

	counts := make(map[string]int, len(sorted))
	for _, b := range sorted {
		counts[b.Value] = b.Count
	}

	values := []FacetValue{}
	listed := map[string]bool{}
	for _, b := range sorted {
		if size > 0 && len(values) >= size {
			break
		}
		values = append(values, FacetValue{Val: b.Value, Count: b.Count})
		listed[b.Value] = true
	}
	for _, v := range selected {
		if listed[v] {
			continue
		}
		values = append(values, FacetValue{Val: v, Count: counts[v]})
		listed[v] = true
	}
	return values
}
