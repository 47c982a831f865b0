// Package index defines the search backend used by the issue query engine and its implementations.
package index

import (
	"context"
	"time"
)

// Field names an indexed attribute of an issue document.
type Field string

const (
	FieldKey           Field = "key"
	FieldRule          Field = "rule"
	FieldLanguage      Field = "language"
	FieldComponentUUID Field = "component_uuid"
	FieldProjectUUID   Field = "project_uuid"
	FieldStatus        Field = "status"
	FieldResolution    Field = "resolution"
	FieldSeverity      Field = "severity"
	FieldSeverityValue Field = "severity_value"
	FieldAssignee      Field = "assignee"
	FieldReporter      Field = "reporter"
	FieldAuthor        Field = "author"
	FieldActionPlan    Field = "action_plan"
	FieldCreatedAt     Field = "created_at"
	FieldUpdatedAt     Field = "updated_at"
	FieldClosedAt      Field = "closed_at"
	FieldFilePath      Field = "file_path"
	FieldLine          Field = "line"
)

// KeywordFields are the string fields that support term filters and aggregations.
var KeywordFields = []Field{
	FieldKey, FieldRule, FieldLanguage, FieldComponentUUID, FieldProjectUUID, FieldStatus,
	FieldResolution, FieldSeverity, FieldAssignee, FieldReporter, FieldAuthor, FieldActionPlan, FieldFilePath,
}

// IsKeyword reports whether f is a keyword field.
func IsKeyword(f Field) bool {
	for _, k := range KeywordFields {
		if k == f {
			return true
		}
	}
	return false
}

// IsDate reports whether f holds a timestamp.
func IsDate(f Field) bool {
	return f == FieldCreatedAt || f == FieldUpdatedAt || f == FieldClosedAt
}

// FilterKind selects how a Filter matches documents.
type FilterKind int

const (
	FilterTerms FilterKind = iota
	FilterExists
	FilterMissing
	FilterRange
	FilterOr
	FilterNone
)

// Filter is one clause of a query. Top-level filters of a Query are AND'ed.
// Tag names the facet whose self-relaxed query drops this clause; an empty Tag is never dropped.
type Filter struct {
	Kind   FilterKind
	Field  Field
	Values []string
	From   *time.Time // inclusive
	To     *time.Time // exclusive
	Or     []Filter
	Tag    Field
}

// Terms matches documents whose field equals one of values.
func Terms(field Field, values ...string) Filter {
	return Filter{Kind: FilterTerms, Field: field, Values: values}
}

// Exists matches documents where field has a value.
func Exists(field Field) Filter {
	return Filter{Kind: FilterExists, Field: field}
}

// Missing matches documents where field has no value.
func Missing(field Field) Filter {
	return Filter{Kind: FilterMissing, Field: field}
}

// Range matches timestamps in [from, to). Either bound may be nil.
func Range(field Field, from, to *time.Time) Filter {
	return Filter{Kind: FilterRange, Field: field, From: from, To: to}
}

// Or matches documents matching any of filters. An empty Or matches nothing.
func Or(filters ...Filter) Filter {
	return Filter{Kind: FilterOr, Or: filters}
}

// None matches nothing.
func None() Filter {
	return Filter{Kind: FilterNone}
}

// Tagged returns a copy of f relaxed by the facet on tag.
func (f Filter) Tagged(tag Field) Filter {
	f.Tag = tag
	return f
}

// Sort orders hits by Field.
type Sort struct {
	Field Field
	Asc   bool
}

// Query is a backend search request.
type Query struct {
	Filters      []Filter
	Sorts        []Sort
	Offset       int
	Limit        int // 0 returns no hits, only Total and aggregations
	Aggregations []Field
	FacetSize    int // max buckets per aggregation, 0 = unbounded
}

// Bucket is one aggregation entry. Documents without a value are counted under "".
type Bucket struct {
	Value string `json:"val"`
	Count int    `json:"count"`
}

// Result is what a backend returns for a Query.
type Result struct {
	Hits         []Document
	Total        int
	Aggregations map[Field][]Bucket
}

// Backend is a search index over issue documents.
type Backend interface {
	Search(ctx context.Context, q Query) (*Result, error)
	// Replace swaps the whole index content for docs.
	Replace(ctx context.Context, docs []Document) error
	Close() error
}
