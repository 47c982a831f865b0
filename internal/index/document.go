package index

import (
	"time"

	"github.com/joescharf/isq/internal/models"
)

// Comment is an issue comment as stored in the index.
type Comment struct {
	Key       string    `json:"key"`
	Login     string    `json:"login"`
	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is an issue denormalized with what a search response shows about its
// component, module, project and rule. Empty strings stand for missing values.
type Document struct {
	Key string `json:"key"`

	RuleKey         string `json:"rule"`
	RuleName        string `json:"ruleName"`
	RuleDescription string `json:"ruleDescription"`
	RuleStatus      string `json:"ruleStatus"`
	Language        string `json:"language"`

	ComponentUUID      string `json:"componentUuid"`
	ComponentID        int64  `json:"componentId"`
	ComponentKey       string `json:"componentKey"`
	ComponentName      string `json:"componentName"`
	ComponentLongName  string `json:"componentLongName"`
	ComponentQualifier string `json:"componentQualifier"`
	ComponentPath      string `json:"componentPath"`
	ComponentEnabled   bool   `json:"componentEnabled"`

	// Nearest module above the component, if any.
	ModuleUUID     string `json:"moduleUuid,omitempty"`
	ModuleID       int64  `json:"moduleId,omitempty"`
	ModuleKey      string `json:"moduleKey,omitempty"`
	ModuleName     string `json:"moduleName,omitempty"`
	ModuleLongName string `json:"moduleLongName,omitempty"`

	ProjectUUID     string `json:"projectUuid"`
	ProjectID       int64  `json:"projectId"`
	ProjectKey      string `json:"projectKey"`
	ProjectName     string `json:"projectName"`
	ProjectLongName string `json:"projectLongName"`

	Message    string            `json:"message"`
	Line       int               `json:"line"`
	Status     string            `json:"status"`
	Resolution string            `json:"resolution"`
	Severity   string            `json:"severity"`
	Debt       *int64            `json:"debt,omitempty"`
	Assignee   string            `json:"assignee"`
	Reporter   string            `json:"reporter"`
	Author     string            `json:"author"`
	ActionPlan string            `json:"actionPlan"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Comments   []Comment         `json:"comments,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// Value returns the keyword value of field, "" when missing or not a keyword field.
func (d *Document) Value(field Field) string {
	switch field {
	case FieldKey:
		return d.Key
	case FieldRule:
		return d.RuleKey
	case FieldLanguage:
		return d.Language
	case FieldComponentUUID:
		return d.ComponentUUID
	case FieldProjectUUID:
		return d.ProjectUUID
	case FieldStatus:
		return d.Status
	case FieldResolution:
		return d.Resolution
	case FieldSeverity:
		return d.Severity
	case FieldAssignee:
		return d.Assignee
	case FieldReporter:
		return d.Reporter
	case FieldAuthor:
		return d.Author
	case FieldActionPlan:
		return d.ActionPlan
	case FieldFilePath:
		return d.ComponentPath
	}
	return ""
}

// SeverityValue is the rank used to sort by severity.
func (d *Document) SeverityValue() int {
	return models.SeverityRank(models.Severity(d.Severity))
}

// Time returns the timestamp stored under a date field.
func (d *Document) Time(field Field) *time.Time {
	switch field {
	case FieldCreatedAt:
		return &d.CreatedAt
	case FieldUpdatedAt:
		return &d.UpdatedAt
	case FieldClosedAt:
		return d.ClosedAt
	}
	return nil
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewDocument denormalizes issue with its component, the component's nearest module,
// its project and its rule. module and rule may be nil.
func NewDocument(issue *models.Issue, component, module, project *models.Component, rule *models.Rule) Document {
	doc := Document{
		Key:           issue.Key,
		RuleKey:       issue.RuleKey,
		ComponentUUID: issue.ComponentUUID,
		ProjectUUID:   issue.ProjectUUID,
		Message:       issue.Message,
		Line:          issue.Line,
		Status:        issue.Status,
		Resolution:    deref(issue.Resolution),
		Severity:      string(issue.Severity),
		Debt:          issue.Debt,
		Assignee:      deref(issue.Assignee),
		Reporter:      deref(issue.Reporter),
		Author:        deref(issue.AuthorLogin),
		ActionPlan:    deref(issue.ActionPlanKey),
		Attributes:    issue.Attributes,
		CreatedAt:     issue.CreatedAt,
		UpdatedAt:     issue.UpdatedAt,
		ClosedAt:      issue.ClosedAt,
	}
	if rule != nil {
		doc.RuleName = rule.Name
		doc.RuleDescription = rule.Description
		doc.RuleStatus = rule.Status
		doc.Language = rule.Language
	}
	if component != nil {
		doc.ComponentID = component.ID
		doc.ComponentKey = component.Key
		doc.ComponentName = component.Name
		doc.ComponentLongName = component.LongName
		doc.ComponentQualifier = component.Qualifier
		doc.ComponentPath = component.Path
		doc.ComponentEnabled = component.Enabled
	}
	if module != nil {
		doc.ModuleUUID = module.UUID
		doc.ModuleID = module.ID
		doc.ModuleKey = module.Key
		doc.ModuleName = module.Name
		doc.ModuleLongName = module.LongName
	}
	if project != nil {
		doc.ProjectID = project.ID
		doc.ProjectKey = project.Key
		doc.ProjectName = project.Name
		doc.ProjectLongName = project.LongName
	}
	for _, c := range issue.Comments() {
		doc.Comments = append(doc.Comments, Comment{Key: c.Key, Login: c.UserLogin, Markdown: c.Data, CreatedAt: c.CreatedAt})
	}
	return doc
}
