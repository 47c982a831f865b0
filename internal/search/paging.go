package search

import (
	"math"
	"time"
)

// Defaults for Limits.
const (
	DefaultMaxLimit  = 500
	DefaultPageSize  = 100
	DefaultFacetSize = 15
	DefaultTimeout   = 10 * time.Second
)

// Limits are the configured bounds of a search.
type Limits struct {
	MaxLimit        int
	DefaultPageSize int
	FacetSize       int
	Timeout         time.Duration
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxLimit:        DefaultMaxLimit,
		DefaultPageSize: DefaultPageSize,
		FacetSize:       DefaultFacetSize,
		Timeout:         DefaultTimeout,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxLimit <= 0 {
		l.MaxLimit = d.MaxLimit
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = d.DefaultPageSize
	}
	if l.DefaultPageSize > l.MaxLimit {
		l.DefaultPageSize = l.MaxLimit
	}
	if l.FacetSize <= 0 {
		l.FacetSize = d.FacetSize
	}
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	return l
}

// Paging is the resolved window of a search.
type Paging struct {
	Page     int
	PageSize int
	Offset   int
	Limit    int
	MaxLimit int
	Unpaged  bool // ignore-paging was honored
}

// Pages returns the number of pages needed to show total hits.
func (p Paging) Pages(total int) int {
	if p.PageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + p.PageSize - 1) / p.PageSize
}

// ResolvePaging turns the requested page into an index window. Ignore-paging is only
// honored when the effective component scope holds exactly one component; it then returns
// the first MaxLimit hits. Otherwise the requested size is used, capped at MaxLimit.
func ResolvePaging(q *Query, componentCount int, limits Limits) Paging {
	limits = limits.withDefaults()

	if q.IgnorePaging && componentCount == 1 {
		return Paging{
			Page:     1,
			PageSize: limits.MaxLimit,
			Limit:    limits.MaxLimit,
			MaxLimit: limits.MaxLimit,
			Unpaged:  true,
		}
	}

	size := q.PageSize
	if size <= 0 {
		size = limits.DefaultPageSize
	}
	if size > limits.MaxLimit {
		size = limits.MaxLimit
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	return Paging{
		Page:     page,
		PageSize: size,
		Offset:   pageOffset(page, size),
		Limit:    size,
		MaxLimit: limits.MaxLimit,
	}
}

// pageOffset is the offset of page, saturated so that a page too far out to be addressed
// still lies past every hit.
func pageOffset(page, size int) int {
	if page-1 > (math.MaxInt-size)/size {
		return math.MaxInt - size
	}
	return (page - 1) * size
}
