package search

import (
	_ "embed"
	"strings"
)

// Request parameter names.
const (
	ParamIssues             = "issues"
	ParamSeverities         = "severities"
	ParamStatuses           = "statuses"
	ParamResolutions        = "resolutions"
	ParamResolved           = "resolved"
	ParamComponents         = "components"
	ParamComponentKeys      = "componentKeys"
	ParamComponentUUIDs     = "componentUuids"
	ParamComponentRoots     = "componentRoots"
	ParamComponentRootUUIDs = "componentRootUuids"
	ParamProjects           = "projects"
	ParamProjectKeys        = "projectKeys"
	ParamProjectUUIDs       = "projectUuids"
	ParamModuleUUIDs        = "moduleUuids"
	ParamFileUUIDs          = "fileUuids"
	ParamRules              = "rules"
	ParamActionPlans        = "actionPlans"
	ParamPlanned            = "planned"
	ParamReporters          = "reporters"
	ParamAssignees          = "assignees"
	ParamAssigned           = "assigned"
	ParamAuthors            = "authors"
	ParamLanguages          = "languages"
	ParamCreatedAt          = "createdAt"
	ParamCreatedAfter       = "createdAfter"
	ParamCreatedBefore      = "createdBefore"
	ParamCreatedInLast      = "createdInLast"
	ParamSort               = "sort"
	ParamAsc                = "asc"
	ParamIgnorePaging       = "ignorePaging"
	ParamHideRules          = "hideRules"
	ParamPageSize           = "pageSize"
	ParamPageIndex          = "pageIndex"
	ParamPage               = "p"
	ParamPs                 = "ps"
	ParamFacets             = "facets"
	ParamExtraFields        = "extra_fields"
)

// Sort keys.
const (
	SortCreationDate = "CREATION_DATE"
	SortUpdateDate   = "UPDATE_DATE"
	SortCloseDate    = "CLOSE_DATE"
	SortAssignee     = "ASSIGNEE"
	SortSeverity     = "SEVERITY"
	SortStatus       = "STATUS"
	SortFileLine     = "FILE_LINE"
)

// SortKeys lists the accepted values of the sort parameter.
var SortKeys = []string{SortCreationDate, SortUpdateDate, SortCloseDate, SortAssignee, SortSeverity, SortStatus, SortFileLine}

// Extra fields.
const (
	ExtraActions        = "actions"
	ExtraTransitions    = "transitions"
	ExtraAssigneeName   = "assigneeName"
	ExtraReporterName   = "reporterName"
	ExtraActionPlanName = "actionPlanName"
)

// ExtraFields lists the accepted values of extra_fields.
var ExtraFields = []string{ExtraActions, ExtraTransitions, ExtraAssigneeName, ExtraReporterName, ExtraActionPlanName}

// Facets lists the accepted values of facets, in the order they are documented.
var Facets = []string{
	ParamSeverities, ParamStatuses, ParamResolutions, ParamActionPlans, ParamProjectUUIDs, ParamRules,
	ParamAssignees, ParamReporters, ParamAuthors, ParamComponentUUIDs, ParamLanguages,
}

// Param documents one request parameter.
type Param struct {
	Key             string   `json:"key"`
	Description     string   `json:"description"`
	ExampleValue    string   `json:"exampleValue,omitempty"`
	DefaultValue    string   `json:"defaultValue,omitempty"`
	PossibleValues  []string `json:"possibleValues,omitempty"`
	DeprecatedSince string   `json:"deprecatedSince,omitempty"`
	Boolean         bool     `json:"-"`
}

var severityValues = []string{"INFO", "MINOR", "MAJOR", "CRITICAL", "BLOCKER"}
var statusValues = []string{"OPEN", "CONFIRMED", "REOPENED", "RESOLVED", "CLOSED"}
var resolutionValues = []string{"FIXED", "FALSE-POSITIVE", "REMOVED"}
var booleanValues = []string{"true", "false", "yes", "no"}

// Params is every parameter the search action accepts.
var Params = []Param{
	{Key: ParamIssues, Description: "Comma-separated list of issue keys", ExampleValue: "5bccd6e8-f525-43a2-8d76-fcb13dde79ef"},
	{Key: ParamSeverities, Description: "Comma-separated list of severities", ExampleValue: "BLOCKER,CRITICAL", PossibleValues: severityValues},
	{Key: ParamStatuses, Description: "Comma-separated list of statuses", ExampleValue: "OPEN,REOPENED", PossibleValues: statusValues},
	{Key: ParamResolutions, Description: "Comma-separated list of resolutions", ExampleValue: "FIXED,REMOVED", PossibleValues: resolutionValues},
	{Key: ParamResolved, Description: "To match resolved or unresolved issues", PossibleValues: booleanValues, Boolean: true},
	{Key: ParamComponents, Description: "To retrieve issues associated to a specific list of components (comma-separated list of component keys)", ExampleValue: "org.apache.struts:struts:org.apache.struts.Action", DeprecatedSince: "5.1"},
	{Key: ParamComponentKeys, Description: "To retrieve issues associated to a specific list of components and their sub-components (comma-separated list of component keys)", ExampleValue: "org.apache.struts:struts", DeprecatedSince: "5.1"},
	{Key: ParamComponentUUIDs, Description: "To retrieve issues associated to a specific list of components (comma-separated list of component UUIDs)", ExampleValue: "584a89f2-8037-4f7b-b82c-8b45d2d63fb2"},
	{Key: ParamComponentRoots, Description: "To retrieve issues associated to a specific list of components and their sub-components (comma-separated list of component keys)", ExampleValue: "org.apache.struts:struts", DeprecatedSince: "5.1"},
	{Key: ParamComponentRootUUIDs, Description: "To retrieve issues associated to a specific list of components and their sub-components (comma-separated list of component UUIDs)", ExampleValue: "7d8749e8-3070-4903-9188-bdd82933bb92", DeprecatedSince: "5.1"},
	{Key: ParamProjects, Description: "To retrieve issues associated to a specific list of projects (comma-separated list of project keys)", ExampleValue: "org.apache.struts:struts", DeprecatedSince: "5.1"},
	{Key: ParamProjectKeys, Description: "To retrieve issues associated to a specific list of projects (comma-separated list of project keys)", ExampleValue: "org.apache.struts:struts", DeprecatedSince: "5.1"},
	{Key: ParamProjectUUIDs, Description: "To retrieve issues associated to a specific list of projects (comma-separated list of project UUIDs)", ExampleValue: "7d8749e8-3070-4903-9188-bdd82933bb92"},
	{Key: ParamModuleUUIDs, Description: "To retrieve issues associated to a specific list of modules and their sub-components (comma-separated list of module UUIDs)", ExampleValue: "7d8749e8-3070-4903-9188-bdd82933bb92"},
	{Key: ParamFileUUIDs, Description: "To retrieve issues associated to a specific list of files (comma-separated list of file UUIDs)", ExampleValue: "bdd82933-3070-4903-9188-7d8749e8bb92"},
	{Key: ParamRules, Description: "Comma-separated list of coding rule keys. Format is <repository>:<rule>", ExampleValue: "squid:AvoidCycles"},
	{Key: ParamActionPlans, Description: "Comma-separated list of action plan keys (not names)", ExampleValue: "3f19de90-1521-4482-a737-a311758ff513"},
	{Key: ParamPlanned, Description: "To retrieve issues associated to an action plan or not", PossibleValues: booleanValues, Boolean: true},
	{Key: ParamReporters, Description: "Comma-separated list of reporter logins", ExampleValue: "admin"},
	{Key: ParamAssignees, Description: "Comma-separated list of assignee logins", ExampleValue: "admin,usera"},
	{Key: ParamAssigned, Description: "To retrieve assigned or unassigned issues", PossibleValues: booleanValues, Boolean: true},
	{Key: ParamAuthors, Description: "Comma-separated list of SCM accounts", ExampleValue: "torvalds@linux-foundation.org"},
	{Key: ParamLanguages, Description: "Comma-separated list of languages", ExampleValue: "java,js"},
	{Key: ParamCreatedAt, Description: "To retrieve issues created at a given date. Format: date or datetime ISO formats", ExampleValue: "2013-05-01 (or 2013-05-01T13:00:00+0100)"},
	{Key: ParamCreatedAfter, Description: "To retrieve issues created after the given date (inclusive). Format: date or datetime ISO formats", ExampleValue: "2013-05-01 (or 2013-05-01T13:00:00+0100)"},
	{Key: ParamCreatedBefore, Description: "To retrieve issues created before the given date (exclusive). Format: date or datetime ISO formats", ExampleValue: "2013-05-01 (or 2013-05-01T13:00:00+0100)"},
	{Key: ParamCreatedInLast, Description: "To retrieve issues created during a time span before the current time (exclusive). Accepted units are 'y' for year, 'm' for month, 'w' for week and 'd' for day. If this parameter is set, createdAfter must not be set", ExampleValue: "1m2w (1 month 2 weeks)"},
	{Key: ParamSort, Description: "Sort field", PossibleValues: SortKeys},
	{Key: ParamAsc, Description: "Ascending sort", DefaultValue: "true", PossibleValues: booleanValues, Boolean: true},
	{Key: ParamIgnorePaging, Description: "Return the full list of issues, regardless of paging. For internal use only, only honored when a single component is requested", DefaultValue: "false", PossibleValues: booleanValues, Boolean: true},
	{Key: ParamHideRules, Description: "Do not return the rules section", DefaultValue: "false", PossibleValues: booleanValues, Boolean: true},
	{Key: ParamPageSize, Description: "Maximum number of results per page. Default value: 100 (except when the 'components' parameter is set, value is set to \"-1\" in this case). If set to \"-1\", the max possible value is used", ExampleValue: "50", DeprecatedSince: "5.1"},
	{Key: ParamPageIndex, Description: "Index of the selected page", ExampleValue: "2", DefaultValue: "1", DeprecatedSince: "5.1"},
	{Key: ParamPage, Description: "1-based page number", ExampleValue: "42", DefaultValue: "1"},
	{Key: ParamPs, Description: "Page size. Must be greater than 0, or -1 to request every result of a single component", ExampleValue: "20", DefaultValue: "100"},
	{Key: ParamFacets, Description: "Comma-separated list of the facets to be computed. No facet is computed by default.", ExampleValue: strings.Join(Facets[:3], ","), PossibleValues: Facets},
	{Key: ParamExtraFields, Description: "Add some extra fields on each issue. Available since 4.4", PossibleValues: ExtraFields},
}

// FindParam returns the declared parameter named key.
func FindParam(key string) (Param, bool) {
	for _, p := range Params {
		if p.Key == key {
			return p, true
		}
	}
	return Param{}, false
}

//go:embed example-search.json
var responseExample string

// ActionDefinition describes the search web service action.
type ActionDefinition struct {
	Key             string  `json:"key"`
	Description     string  `json:"description"`
	Since           string  `json:"since"`
	Post            bool    `json:"post"`
	Internal        bool    `json:"internal"`
	HasResponse     bool    `json:"hasResponseExample"`
	ResponseExample string  `json:"-"`
	Params          []Param `json:"params"`
}

// Definition returns the metadata of the search action.
func Definition() ActionDefinition {
	return ActionDefinition{
		Key:             "search",
		Description:     "Get a list of issues. Only issues on components the caller may browse are returned.",
		Since:           "3.6",
		Post:            false,
		Internal:        false,
		HasResponse:     responseExample != "",
		ResponseExample: responseExample,
		Params:          append([]Param(nil), Params...),
	}
}
