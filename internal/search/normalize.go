package search

import (
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/isq/internal/authz"
)

// Period is a calendar span such as "1m2w".
type Period struct {
	Years, Months, Weeks, Days int
}

// Before returns t moved back by p.
func (p Period) Before(t time.Time) time.Time {
	return t.AddDate(-p.Years, -p.Months, -(7*p.Weeks + p.Days))
}

// Query is the normalized, validated form of a search request.
// Both paging generations and key or uuid scope parameters are folded into one representation.
type Query struct {
	Issues      []string
	Severities  []string
	Statuses    []string
	Resolutions []string
	Resolved    *bool

	Scope authz.ScopeRequest

	Rules       []string
	ActionPlans []string
	Planned     *bool
	Reporters   []string
	Assignees   []string
	Assigned    *bool
	Authors     []string
	Languages   []string

	CreatedAt     *time.Time
	CreatedAtSpan time.Duration // width of the createdAt window: a day for dates, a second for datetimes
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	CreatedInLast *Period

	Sort string // "" = default order
	Asc  bool

	Page         int
	PageSize     int // 0 = default size
	IgnorePaging bool
	HideRules    bool

	Facets      []string
	ExtraFields []string
}

// HasExtra reports whether the extra field was requested.
func (q *Query) HasExtra(name string) bool {
	return slices.Contains(q.ExtraFields, name)
}

// Normalize parses raw request parameters. It performs no I/O and does not read the clock.
func Normalize(params url.Values) (*Query, error) {
	q := &Query{
		Issues:      list(params, ParamIssues),
		Rules:       list(params, ParamRules),
		ActionPlans: list(params, ParamActionPlans),
		Reporters:   list(params, ParamReporters),
		Assignees:   list(params, ParamAssignees),
		Authors:     list(params, ParamAuthors),
		Languages:   list(params, ParamLanguages),
		Asc:         true,
		Page:        1,
	}

	var err error
	if q.Severities, err = enumList(params, ParamSeverities, severityValues); err != nil {
		return nil, err
	}
	if q.Statuses, err = enumList(params, ParamStatuses, statusValues); err != nil {
		return nil, err
	}
	if q.Resolutions, err = enumList(params, ParamResolutions, resolutionValues); err != nil {
		return nil, err
	}
	if q.Facets, err = enumList(params, ParamFacets, Facets); err != nil {
		return nil, err
	}
	if q.ExtraFields, err = enumList(params, ParamExtraFields, ExtraFields); err != nil {
		return nil, err
	}

	if q.Resolved, err = optionalBool(params, ParamResolved); err != nil {
		return nil, err
	}
	if q.Planned, err = optionalBool(params, ParamPlanned); err != nil {
		return nil, err
	}
	if q.Assigned, err = optionalBool(params, ParamAssigned); err != nil {
		return nil, err
	}
	if q.Asc, err = boolOr(params, ParamAsc, true); err != nil {
		return nil, err
	}
	if q.IgnorePaging, err = boolOr(params, ParamIgnorePaging, false); err != nil {
		return nil, err
	}
	if q.HideRules, err = boolOr(params, ParamHideRules, false); err != nil {
		return nil, err
	}

	q.Scope = authz.ScopeRequest{
		ComponentKeys:      list(params, ParamComponents),
		ComponentUUIDs:     union(list(params, ParamComponentUUIDs), list(params, ParamFileUUIDs)),
		ComponentRootKeys:  union(list(params, ParamComponentKeys), list(params, ParamComponentRoots)),
		ComponentRootUUIDs: union(list(params, ParamComponentRootUUIDs), list(params, ParamModuleUUIDs)),
		ProjectKeys:        union(list(params, ParamProjects), list(params, ParamProjectKeys)),
		ProjectUUIDs:       list(params, ParamProjectUUIDs),
	}

	if sort := strings.TrimSpace(params.Get(ParamSort)); sort != "" {
		if !slices.Contains(SortKeys, sort) {
			return nil, invalid(ParamSort, "value of parameter '%s' (%s) must be one of: %s", ParamSort, sort, strings.Join(SortKeys, ", "))
		}
		q.Sort = sort
	}

	if err := normalizeDates(params, q); err != nil {
		return nil, err
	}
	if err := normalizePaging(params, q); err != nil {
		return nil, err
	}
	return q, nil
}

// list splits every value of name on commas, trims and dedupes them, keeping the first occurrence.
func list(params url.Values, name string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range params[name] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func enumList(params url.Values, name string, allowed []string) ([]string, error) {
	values := list(params, name)
	for _, v := range values {
		if !slices.Contains(allowed, v) {
			return nil, invalid(name, "value of parameter '%s' (%s) must be one of: %s", name, v, strings.Join(allowed, ", "))
		}
	}
	return values, nil
}

func parseBool(name, raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	}
	return false, invalid(name, "value of parameter '%s' must be one of: true, false, yes, no", name)
}

func optionalBool(params url.Values, name string) (*bool, error) {
	raw := params.Get(name)
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	b, err := parseBool(name, raw)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func boolOr(params url.Values, name string, def bool) (bool, error) {
	b, err := optionalBool(params, name)
	if err != nil || b == nil {
		return def, err
	}
	return *b, nil
}

var dateTimeLayouts = []string{"2006-01-02T15:04:05-0700", time.RFC3339}

// parseDate accepts a date (UTC midnight) or a datetime. dateOnly tells which was given.
func parseDate(name, raw string) (t time.Time, dateOnly bool, err error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, false, nil
		}
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, invalid(name, "'%s' cannot be parsed as either a date or date+time", raw)
}

func optionalDate(params url.Values, name string) (*time.Time, bool, error) {
	raw := params.Get(name)
	if strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}
	t, dateOnly, err := parseDate(name, raw)
	if err != nil {
		return nil, false, err
	}
	return &t, dateOnly, nil
}

var periodPattern = regexp.MustCompile(`^(\d+[ymwd])+$`)
var periodPart = regexp.MustCompile(`(\d+)([ymwd])`)

func parsePeriod(raw string) (*Period, error) {
	raw = strings.TrimSpace(raw)
	if !periodPattern.MatchString(raw) {
		return nil, invalid(ParamCreatedInLast, "'%s' is not a valid period, expected a value like 1m2w", raw)
	}
	p := &Period{}
	for _, m := range periodPart.FindAllStringSubmatch(raw, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, invalid(ParamCreatedInLast, "'%s' is not a valid period", raw)
		}
		switch m[2] {
		case "y":
			p.Years += n
		case "m":
			p.Months += n
		case "w":
			p.Weeks += n
		case "d":
			p.Days += n
		}
	}
	return p, nil
}

func normalizeDates(params url.Values, q *Query) error {
	var err error
	var dateOnly bool
	if q.CreatedAt, dateOnly, err = optionalDate(params, ParamCreatedAt); err != nil {
		return err
	}
	if q.CreatedAt != nil {
		q.CreatedAtSpan = time.Second
		if dateOnly {
			q.CreatedAtSpan = 24 * time.Hour
		}
	}
	if q.CreatedAfter, _, err = optionalDate(params, ParamCreatedAfter); err != nil {
		return err
	}
	if q.CreatedBefore, _, err = optionalDate(params, ParamCreatedBefore); err != nil {
		return err
	}
	if raw := params.Get(ParamCreatedInLast); strings.TrimSpace(raw) != "" {
		if q.CreatedInLast, err = parsePeriod(raw); err != nil {
			return err
		}
	}

	if q.CreatedAt != nil && (q.CreatedAfter != nil || q.CreatedBefore != nil || q.CreatedInLast != nil) {
		return invalid(ParamCreatedAt, "parameters '%s' and '%s', '%s' or '%s' cannot be set simultaneously",
			ParamCreatedAt, ParamCreatedAfter, ParamCreatedBefore, ParamCreatedInLast)
	}
	if q.CreatedAfter != nil && q.CreatedInLast != nil {
		return invalid(ParamCreatedAfter, "parameters '%s' and '%s' cannot be set simultaneously", ParamCreatedAfter, ParamCreatedInLast)
	}
	if q.CreatedAfter != nil && q.CreatedBefore != nil && q.CreatedAfter.After(*q.CreatedBefore) {
		return invalid(ParamCreatedAfter, "'%s' must be before '%s'", ParamCreatedAfter, ParamCreatedBefore)
	}
	return nil
}

// firstSet returns the value of the first parameter present, and its name.
func firstSet(params url.Values, names ...string) (string, string) {
	for _, name := range names {
		if v := strings.TrimSpace(params.Get(name)); v != "" {
			return v, name
		}
	}
	return "", ""
}

// normalizePaging applies p/ps over pageIndex/pageSize, each independently.
// A size of -1 in either generation requests ignore-paging.
func normalizePaging(params url.Values, q *Query) error {
	if raw, name := firstSet(params, ParamPage, ParamPageIndex); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return invalid(name, "'%s' is not an integer", raw)
		}
		if page < 1 {
			return invalid(name, "page must be strictly positive, got %d", page)
		}
		q.Page = page
	}

	if raw, name := firstSet(params, ParamPs, ParamPageSize); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return invalid(name, "'%s' is not an integer", raw)
		}
		switch {
		case size == -1:
			q.IgnorePaging = true
		case size < 1:
			return invalid(name, "page size must be strictly positive or -1, got %d", size)
		default:
			q.PageSize = size
		}
	}
	return nil
}
