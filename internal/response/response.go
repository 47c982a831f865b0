// Package response serializes search results into the web service payload.
package response

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joescharf/isq/internal/index"
	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/search"
)

// DateFormat is the datetime layout of every date in the payload.
const DateFormat = "2006-01-02T15:04:05-0700"

// Minutes per debt day.
const minutesPerDay = 8 * 60

// Paging is the deprecated paging block.
type Paging struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
	Pages     int `json:"pages"`
}

// Comment is a rendered issue comment.
type Comment struct {
	Key       string `json:"key"`
	Login     string `json:"login"`
	HTMLText  string `json:"htmlText"`
	Markdown  string `json:"markdown"`
	CreatedAt string `json:"createdAt"`
}

// Issue is one serialized issue. Extra fields are present only when requested.
type Issue struct {
	Key           string            `json:"key"`
	Component     string            `json:"component"`
	ComponentID   int64             `json:"componentId"`
	ComponentUUID string            `json:"componentUuid"`
	SubProject    string            `json:"subProject,omitempty"`
	Project       string            `json:"project"`
	ProjectUUID   string            `json:"projectUuid"`
	Rule          string            `json:"rule"`
	Status        string            `json:"status"`
	Resolution    string            `json:"resolution,omitempty"`
	Severity      string            `json:"severity"`
	Message       string            `json:"message,omitempty"`
	Line          int               `json:"line,omitempty"`
	Debt          string            `json:"debt,omitempty"`
	Author        string            `json:"author,omitempty"`
	Assignee      string            `json:"assignee,omitempty"`
	Reporter      string            `json:"reporter,omitempty"`
	ActionPlan    string            `json:"actionPlan,omitempty"`
	Attr          map[string]string `json:"attr,omitempty"`
	Comments      []Comment         `json:"comments,omitempty"`
	CreationDate  string            `json:"creationDate"`
	UpdateDate    string            `json:"updateDate"`
	CloseDate     string            `json:"closeDate,omitempty"`

	Actions        []string `json:"actions,omitzero"`
	Transitions    []string `json:"transitions,omitzero"`
	AssigneeName   string   `json:"assigneeName,omitempty"`
	ReporterName   string   `json:"reporterName,omitempty"`
	ActionPlanName string   `json:"actionPlanName,omitempty"`
}

// Component is a component referenced by the returned issues.
type Component struct {
	UUID         string `json:"uuid"`
	Key          string `json:"key"`
	ID           int64  `json:"id"`
	Enabled      bool   `json:"enabled"`
	Qualifier    string `json:"qualifier"`
	Name         string `json:"name"`
	LongName     string `json:"longName"`
	Path         string `json:"path,omitempty"`
	ProjectID    int64  `json:"projectId,omitempty"`
	SubProjectID int64  `json:"subProjectId,omitempty"`
}

// Project is a project referenced by the returned issues.
type Project struct {
	UUID      string `json:"uuid"`
	Key       string `json:"key"`
	ID        int64  `json:"id"`
	Qualifier string `json:"qualifier"`
	Name      string `json:"name"`
	LongName  string `json:"longName"`
}

// Rule is a rule referenced by the returned issues.
type Rule struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Desc   string `json:"desc,omitempty"`
	Status string `json:"status"`
	Lang   string `json:"lang,omitempty"`
}

// Payload is the search response.
type Payload struct {
	Total      int            `json:"total"`
	P          int            `json:"p"`
	Ps         int            `json:"ps"`
	Paging     Paging         `json:"paging"`
	Issues     []Issue        `json:"issues"`
	Components []Component    `json:"components"`
	Projects   []Project      `json:"projects"`
	Rules      []Rule         `json:"rules,omitzero"`
	Facets     []search.Facet `json:"facets"`
}

// Compose builds the payload of res. The paging window is written in both the current
// and the deprecated shape.
func Compose(res *search.Result) *Payload {
	p := &Payload{
		Total: res.Total,
		P:     res.Paging.Page,
		Ps:    res.Paging.PageSize,
		Paging: Paging{
			PageIndex: res.Paging.Page,
			PageSize:  res.Paging.PageSize,
			Total:     res.Total,
			Pages:     res.Paging.Pages(res.Total),
		},
		Issues:     make([]Issue, 0, len(res.Hits)),
		Components: []Component{},
		Projects:   []Project{},
		Facets:     res.Facets,
	}
	if p.Facets == nil {
		p.Facets = []search.Facet{}
	}
	hideRules := res.Query != nil && res.Query.HideRules
	if !hideRules {
		p.Rules = []Rule{}
	}

	seenComponents := map[string]bool{}
	seenProjects := map[string]bool{}
	seenRules := map[string]bool{}
	addComponent := func(c Component) {
		if c.UUID != "" && !seenComponents[c.UUID] {
			seenComponents[c.UUID] = true
			p.Components = append(p.Components, c)
		}
	}

	for i := range res.Hits {
		d := &res.Hits[i]
		p.Issues = append(p.Issues, issue(d, res.Extras[d.Key]))

		file := Component{
			UUID: d.ComponentUUID, Key: d.ComponentKey, ID: d.ComponentID, Enabled: d.ComponentEnabled,
			Qualifier: d.ComponentQualifier, Name: d.ComponentName, LongName: d.ComponentLongName,
			Path: d.ComponentPath, ProjectID: d.ProjectID, SubProjectID: d.ModuleID,
		}
		if d.ComponentUUID == d.ProjectUUID {
			file.ProjectID = 0
		}
		addComponent(file)
		if d.ModuleUUID != "" && d.ModuleUUID != d.ComponentUUID {
			addComponent(Component{
				UUID: d.ModuleUUID, Key: d.ModuleKey, ID: d.ModuleID, Enabled: true,
				Qualifier: models.QualifierModule, Name: d.ModuleName, LongName: d.ModuleLongName, ProjectID: d.ProjectID,
			})
		}
		if d.ProjectUUID != d.ComponentUUID {
			addComponent(Component{
				UUID: d.ProjectUUID, Key: d.ProjectKey, ID: d.ProjectID, Enabled: true,
				Qualifier: models.QualifierProject, Name: d.ProjectName, LongName: d.ProjectLongName,
			})
		}

		if !seenProjects[d.ProjectUUID] {
			seenProjects[d.ProjectUUID] = true
			p.Projects = append(p.Projects, Project{
				UUID: d.ProjectUUID, Key: d.ProjectKey, ID: d.ProjectID, Qualifier: models.QualifierProject,
				Name: d.ProjectName, LongName: d.ProjectLongName,
			})
		}

		if !hideRules && !seenRules[d.RuleKey] {
			seenRules[d.RuleKey] = true
			p.Rules = append(p.Rules, Rule{Key: d.RuleKey, Name: d.RuleName, Desc: d.RuleDescription, Status: d.RuleStatus, Lang: d.Language})
		}
	}
	return p
}

func issue(d *index.Document, ex *search.Extras) Issue {
	out := Issue{
		Key:           d.Key,
		Component:     d.ComponentKey,
		ComponentID:   d.ComponentID,
		ComponentUUID: d.ComponentUUID,
		SubProject:    d.ModuleKey,
		Project:       d.ProjectKey,
		ProjectUUID:   d.ProjectUUID,
		Rule:          d.RuleKey,
		Status:        d.Status,
		Resolution:    d.Resolution,
		Severity:      d.Severity,
		Message:       d.Message,
		Line:          d.Line,
		Author:        d.Author,
		Assignee:      d.Assignee,
		Reporter:      d.Reporter,
		ActionPlan:    d.ActionPlan,
		Attr:          d.Attributes,
		CreationDate:  FormatDate(d.CreatedAt),
		UpdateDate:    FormatDate(d.UpdatedAt),
	}
	if d.Debt != nil {
		out.Debt = FormatDebt(*d.Debt)
	}
	if d.ClosedAt != nil {
		out.CloseDate = FormatDate(*d.ClosedAt)
	}
	for _, c := range d.Comments {
		out.Comments = append(out.Comments, Comment{
			Key:       c.Key,
			Login:     c.Login,
			HTMLText:  RenderMarkdown(c.Markdown),
			Markdown:  c.Markdown,
			CreatedAt: FormatDate(c.CreatedAt),
		})
	}
	if ex != nil {
		out.Actions = ex.Actions
		out.Transitions = ex.Transitions
		out.AssigneeName = ex.AssigneeName
		out.ReporterName = ex.ReporterName
		out.ActionPlanName = ex.ActionPlanName
	}
	return out
}

// FormatDate renders t in DateFormat.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// FormatDebt renders a duration in minutes as e.g. "1d2h10min", with 8-hour days.
func FormatDebt(minutes int64) string {
	if minutes <= 0 {
		return "0min"
	}
	days := minutes / minutesPerDay
	hours := (minutes % minutesPerDay) / 60
	mins := minutes % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if mins > 0 {
		fmt.Fprintf(&b, "%dmin", mins)
	}
	return b.String()
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// RenderMarkdown converts comment markdown to HTML. Raw HTML in the input is not rendered.
func RenderMarkdown(src string) string {
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(src), &buf); err != nil {
		return html.EscapeString(src)
	}
	return strings.TrimSpace(buf.String())
}

// Schema returns the JSON schema of Payload.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&Payload{})
}
