package search

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joescharf/isq/internal/authz"
	"github.com/joescharf/isq/internal/index"
)

// facetFields maps facet names to the index field they aggregate.
var facetFields = map[string]index.Field{
	ParamSeverities:     index.FieldSeverity,
	ParamStatuses:       index.FieldStatus,
	ParamResolutions:    index.FieldResolution,
	ParamActionPlans:    index.FieldActionPlan,
	ParamProjectUUIDs:   index.FieldProjectUUID,
	ParamRules:          index.FieldRule,
	ParamAssignees:      index.FieldAssignee,
	ParamReporters:      index.FieldReporter,
	ParamAuthors:        index.FieldAuthor,
	ParamComponentUUIDs: index.FieldComponentUUID,
	ParamLanguages:      index.FieldLanguage,
}

var sortFields = map[string][]index.Field{
	SortCreationDate: {index.FieldCreatedAt},
	SortUpdateDate:   {index.FieldUpdatedAt},
	SortCloseDate:    {index.FieldClosedAt},
	SortAssignee:     {index.FieldAssignee},
	SortSeverity:     {index.FieldSeverityValue},
	SortStatus:       {index.FieldStatus},
	SortFileLine:     {index.FieldFilePath, index.FieldLine},
}

// FacetQuery is the self-relaxed query computing one facet.
type FacetQuery struct {
	Name     string
	Field    index.Field
	Selected []string
	Query    index.Query
}

// Plan is everything a search sends to the index.
type Plan struct {
	Main   index.Query
	Facets []FacetQuery
}

// Build translates a normalized query and its resolved scope into index queries. now anchors
// createdInLast.
func Build(q *Query, scope *authz.Scope, paging Paging, now time.Time) *Plan {
	filters := buildFilters(q, scope, now)

	plan := &Plan{
		Main: index.Query{
			Filters: filters,
			Sorts:   buildSorts(q),
			Offset:  paging.Offset,
			Limit:   paging.Limit,
		},
	}

	for _, name := range q.Facets {
		field := facetFields[name]
		plan.Facets = append(plan.Facets, FacetQuery{
			Name:     name,
			Field:    field,
			Selected: selected(q, name),
			Query: index.Query{
				Filters:      relax(filters, field),
				Aggregations: []index.Field{field},
			},
		})
	}
	return plan
}

// relax drops the filters tagged with field. The visibility filter carries no tag and is kept.
func relax(filters []index.Filter, field index.Field) []index.Filter {
	out := make([]index.Filter, 0, len(filters))
	for _, f := range filters {
		if f.Tag != field {
			out = append(out, f)
		}
	}
	return out
}

func visibilityFilter(v authz.Visibility) (index.Filter, bool) {
	if v.All {
		return index.Filter{}, false
	}
	var or []index.Filter
	if v.Projects.Len() > 0 {
		or = append(or, index.Terms(index.FieldProjectUUID, sets.List(v.Projects)...))
	}
	if v.Components.Len() > 0 {
		or = append(or, index.Terms(index.FieldComponentUUID, sets.List(v.Components)...))
	}
	if len(or) == 0 {
		return index.None(), true
	}
	return index.Or(or...), true
}

func terms(field index.Field, values []string) []index.Filter {
	if len(values) == 0 {
		return nil
	}
	return []index.Filter{index.Terms(field, values...).Tagged(field)}
}

func presence(field index.Field, present *bool) []index.Filter {
	if present == nil {
		return nil
	}
	if *present {
		return []index.Filter{index.Exists(field).Tagged(field)}
	}
	return []index.Filter{index.Missing(field).Tagged(field)}
}

// scopeFilter restricts to a requested scope. A requested scope that resolved to nothing
// matches nothing.
func scopeFilter(field index.Field, resolved sets.Set[string]) []index.Filter {
	if resolved == nil {
		return nil
	}
	if resolved.Len() == 0 {
		return []index.Filter{index.None().Tagged(field)}
	}
	return []index.Filter{index.Terms(field, sets.List(resolved)...).Tagged(field)}
}

func buildFilters(q *Query, scope *authz.Scope, now time.Time) []index.Filter {
	var filters []index.Filter
	if vis, ok := visibilityFilter(scope.Visible); ok {
		filters = append(filters, vis)
	}
	if len(q.Issues) > 0 {
		filters = append(filters, index.Terms(index.FieldKey, q.Issues...))
	}

	filters = append(filters, scopeFilter(index.FieldComponentUUID, scope.Components)...)
	filters = append(filters, scopeFilter(index.FieldProjectUUID, scope.Projects)...)

	filters = append(filters, terms(index.FieldSeverity, q.Severities)...)
	filters = append(filters, terms(index.FieldStatus, q.Statuses)...)
	filters = append(filters, terms(index.FieldResolution, q.Resolutions)...)
	filters = append(filters, presence(index.FieldResolution, q.Resolved)...)
	filters = append(filters, terms(index.FieldRule, q.Rules)...)
	filters = append(filters, terms(index.FieldActionPlan, q.ActionPlans)...)
	filters = append(filters, presence(index.FieldActionPlan, q.Planned)...)
	filters = append(filters, terms(index.FieldReporter, q.Reporters)...)
	filters = append(filters, terms(index.FieldAssignee, q.Assignees)...)
	filters = append(filters, presence(index.FieldAssignee, q.Assigned)...)
	filters = append(filters, terms(index.FieldAuthor, q.Authors)...)
	filters = append(filters, terms(index.FieldLanguage, q.Languages)...)

	if f, ok := createdFilter(q, now); ok {
		filters = append(filters, f)
	}
	return filters
}

func createdFilter(q *Query, now time.Time) (index.Filter, bool) {
	if q.CreatedAt != nil {
		to := q.CreatedAt.Add(q.CreatedAtSpan)
		return index.Range(index.FieldCreatedAt, q.CreatedAt, &to), true
	}
	from := q.CreatedAfter
	if q.CreatedInLast != nil {
		t := q.CreatedInLast.Before(now)
		from = &t
	}
	if from == nil && q.CreatedBefore == nil {
		return index.Filter{}, false
	}
	return index.Range(index.FieldCreatedAt, from, q.CreatedBefore), true
}

// buildSorts orders by the requested key, CREATION_DATE descending by default, then by issue key.
func buildSorts(q *Query) []index.Sort {
	var sorts []index.Sort
	if q.Sort == "" {
		sorts = append(sorts, index.Sort{Field: index.FieldCreatedAt, Asc: false})
	} else {
		for _, f := range sortFields[q.Sort] {
			sorts = append(sorts, index.Sort{Field: f, Asc: q.Asc})
		}
	}
	return append(sorts, index.Sort{Field: index.FieldKey, Asc: true})
}

// selected returns the values the caller filtered a facet's field on.
func selected(q *Query, facet string) []string {
	switch facet {
	case ParamSeverities:
		return q.Severities
	case ParamStatuses:
		return q.Statuses
	case ParamResolutions:
		return q.Resolutions
	case ParamActionPlans:
		return q.ActionPlans
	case ParamProjectUUIDs:
		return q.Scope.ProjectUUIDs
	case ParamRules:
		return q.Rules
	case ParamAssignees:
		return q.Assignees
	case ParamReporters:
		return q.Reporters
	case ParamAuthors:
		return q.Authors
	case ParamComponentUUIDs:
		return q.Scope.ComponentUUIDs
	case ParamLanguages:
		return q.Languages
	}
	return nil
}
