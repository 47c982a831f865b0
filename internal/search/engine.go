// Package search implements the issue query engine: request normalization, paging, index
// query building, facets and enrichment.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/isq/internal/authz"
	"github.com/joescharf/isq/internal/index"
	"github.com/joescharf/isq/internal/logger"
	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/store"
)

// Result is the outcome of one search, before serialization.
type Result struct {
	Query  *Query
	Paging Paging
	Total  int
	Hits   []index.Document
	Extras map[string]*Extras
	Facets []Facet
}

// Engine runs issue searches against an index backend on behalf of a caller.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	backend  index.Backend
	resolver *authz.Resolver
	enricher *Enricher
	indexer  *index.Indexer
	limits   Limits
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used by createdInLast.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine reading permissions and references from s and issues from backend.
func NewEngine(s store.Reader, backend index.Backend, limits Limits, opts ...Option) *Engine {
	e := &Engine{
		backend:  backend,
		resolver: authz.NewResolver(s),
		enricher: NewEnricher(s),
		indexer:  index.NewIndexer(s, backend),
		limits:   limits.withDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the effective limits.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Search runs the request described by params for caller.
func (e *Engine) Search(ctx context.Context, caller models.Caller, params url.Values) (*Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "isq.search.engine"})
	sc := logger.StartSpan(ctx, "search.Search")
	defer sc.End()
	ctx = sc.Context()

	res, err := e.search(ctx, caller, params)
	if err != nil {
		sc.RecordError(err)
		var verr *ValidationError
		if errors.As(err, &verr) {
			slog.DebugContext(ctx, "rejected search", "param", verr.Param, "error", verr.Message)
		} else {
			slog.ErrorContext(ctx, "search failed", "error", err)
		}
		return nil, err
	}
	sc.SetAttributes(attribute.Int("search.total", res.Total), attribute.Int("search.hits", len(res.Hits)))
	return res, nil
}

func (e *Engine) search(ctx context.Context, caller models.Caller, params url.Values) (*Result, error) {
	start := time.Now()

	q, err := Normalize(params)
	if err != nil {
		return nil, err
	}

	scope, err := e.resolver.Resolve(ctx, caller, q.Scope)
	if err != nil {
		return nil, fmt.Errorf("resolve scope: %w", err)
	}

	paging := ResolvePaging(q, scope.ComponentCount(), e.limits)
	plan := Build(q, scope, paging, e.now())

	ctx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	res := &Result{Query: q, Paging: paging}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := e.backend.Search(gctx, plan.Main)
		if err != nil {
			return &BackendError{Op: "search", Err: err}
		}
		res.Total = found.Total
		res.Hits = found.Hits
		res.Extras, err = e.enricher.Enrich(gctx, scope, found.Hits, q)
		return err
	})
	g.Go(func() error {
		facets, err := AssembleFacets(gctx, e.backend, plan.Facets, e.limits.FacetSize)
		if err != nil {
			return err
		}
		res.Facets = facets
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &BackendError{Op: "search", Err: ctx.Err()}
		}
		return nil, err
	}
	if res.Hits == nil {
		res.Hits = []index.Document{}
	}
	if res.Facets == nil {
		res.Facets = []Facet{}
	}

	slog.InfoContext(ctx, "search completed",
		"total", res.Total,
		"hits", len(res.Hits),
		"page", paging.Page,
		"page_size", paging.PageSize,
		"unpaged", paging.Unpaged,
		"facets", len(res.Facets),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Reindex rebuilds the index from the store and returns the number of indexed issues.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	sc := logger.StartSpan(ctx, "search.Reindex")
	defer sc.End()
	n, err := e.indexer.ReindexAll(sc.Context())
	sc.RecordError(err)
	return n, err
}

// IsAdmin reports whether caller holds the global administrative permission.
func (e *Engine) IsAdmin(ctx context.Context, caller models.Caller) (bool, error) {
	scope, err := e.resolver.Resolve(ctx, caller, authz.ScopeRequest{})
	if err != nil {
		return false, err
	}
	return scope.Visible.All, nil
}
