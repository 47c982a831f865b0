package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/store"
)

var importNoReindex bool

var importCmd = &cobra.Command{
	Use:   "import <fixtures.yaml>",
	Short: "Load components, rules, permissions and issues from a YAML file",
	Long: `Load a YAML fixtures file into the SQLite store and rebuild the search index.

Components are referenced by key everywhere in the file and must be listed
parents first. A grant without a component is global.

Example:

  components:
    - {key: sample, name: Sample, qualifier: TRK}
    - {key: "sample:src/Foo.xoo", name: Foo.xoo, qualifier: FIL, parent: sample, path: src/Foo.xoo}
  rules:
    - {key: "xoo:x1", name: Rule One, language: xoo}
  users:
    - {login: john, name: John, groups: [devs]}
  grants:
    - {group: devs, component: sample, role: codeviewer}
    - {user: admin, role: admin}
  action_plans:
    - {key: AP-1, name: Sprint 1, project: sample}
  issues:
    - component: "sample:src/Foo.xoo"
      rule: "xoo:x1"
      severity: MAJOR
      line: 12
      message: Fix it
      assignee: john
      comments:
        - {login: john, text: "*on it*"}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return importRun(cmd.Context(), args[0])
	},
}

func init() {
	importCmd.Flags().BoolVar(&importNoReindex, "no-reindex", false, "Skip rebuilding the search index")
	rootCmd.AddCommand(importCmd)
}

// fixtures is the document accepted by isq import.
type fixtures struct {
	Components  []componentFixture  `yaml:"components"`
	Rules       []ruleFixture       `yaml:"rules"`
	Users       []userFixture       `yaml:"users"`
	Grants      []grantFixture      `yaml:"grants"`
	ActionPlans []actionPlanFixture `yaml:"action_plans"`
	Issues      []issueFixture      `yaml:"issues"`
}

type componentFixture struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	LongName  string `yaml:"long_name"`
	Qualifier string `yaml:"qualifier"`
	Path      string `yaml:"path"`
	Language  string `yaml:"language"`
	Parent    string `yaml:"parent"`
	Enabled   *bool  `yaml:"enabled"`
}

type ruleFixture struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Status      string `yaml:"status"`
	Language    string `yaml:"language"`
}

type userFixture struct {
	Login  string   `yaml:"login"`
	Name   string   `yaml:"name"`
	Email  string   `yaml:"email"`
	Active *bool    `yaml:"active"`
	Groups []string `yaml:"groups"`
}

type grantFixture struct {
	User      string `yaml:"user"`
	Group     string `yaml:"group"`
	Component string `yaml:"component"`
	Role      string `yaml:"role"`
}

type actionPlanFixture struct {
	Key      string     `yaml:"key"`
	Name     string     `yaml:"name"`
	Status   string     `yaml:"status"`
	Project  string     `yaml:"project"`
	User     string     `yaml:"user"`
	Deadline *time.Time `yaml:"deadline"`
}

type commentFixture struct {
	Login     string    `yaml:"login"`
	Text      string    `yaml:"text"`
	CreatedAt time.Time `yaml:"created_at"`
}

type issueFixture struct {
	Key        string            `yaml:"key"`
	Component  string            `yaml:"component"`
	Rule       string            `yaml:"rule"`
	Message    string            `yaml:"message"`
	Line       int               `yaml:"line"`
	Status     string            `yaml:"status"`
	Resolution string            `yaml:"resolution"`
	Severity   string            `yaml:"severity"`
	Debt       *int64            `yaml:"debt"`
	Assignee   string            `yaml:"assignee"`
	Reporter   string            `yaml:"reporter"`
	Author     string            `yaml:"author"`
	ActionPlan string            `yaml:"action_plan"`
	Attributes map[string]string `yaml:"attributes"`
	CreatedAt  time.Time         `yaml:"created_at"`
	UpdatedAt  time.Time         `yaml:"updated_at"`
	ClosedAt   *time.Time        `yaml:"closed_at"`
	Comments   []commentFixture  `yaml:"comments"`
}

// importStats counts what was written.
type importStats struct {
	Components, Rules, Users, Grants, ActionPlans, Issues, Comments int
}

func importRun(ctx context.Context, file string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if driver := viper.GetString("store.driver"); driver != "" && driver != "sqlite" {
		return fmt.Errorf("import writes to the sqlite store; store.driver is %q", driver)
	}

	f, err := loadFixtures(file)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would import %d components, %d rules, %d users, %d grants, %d action plans, %d issues",
			len(f.Components), len(f.Rules), len(f.Users), len(f.Grants), len(f.ActionPlans), len(f.Issues))
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	stats, err := importFixtures(ctx, s, f)
	if err != nil {
		return err
	}
	ui.Success("Imported %d components, %d rules, %d users, %d grants, %d action plans, %d issues, %d comments",
		stats.Components, stats.Rules, stats.Users, stats.Grants, stats.ActionPlans, stats.Issues, stats.Comments)

	if importNoReindex {
		ui.Info("Skipped reindex; run 'isq reindex' before searching")
		return nil
	}
	return reindexRun(ctx)
}

func loadFixtures(file string) (*fixtures, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var f fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", file, err)
	}
	return &f, nil
}

// scopeOf maps a qualifier to the scope stored with the component.
func scopeOf(qualifier string) string {
	switch qualifier {
	case models.QualifierDirectory:
		return models.ScopeDirectory
	case models.QualifierFile:
		return models.ScopeFile
	default:
		return models.ScopeProject
	}
}

func importFixtures(ctx context.Context, s store.Store, f *fixtures) (importStats, error) {
	var stats importStats
	byKey := make(map[string]*models.Component)

	for _, cf := range f.Components {
		if cf.Key == "" {
			return stats, fmt.Errorf("component without key")
		}
		qualifier := cf.Qualifier
		if qualifier == "" {
			qualifier = models.QualifierProject
			if cf.Parent != "" {
				qualifier = models.QualifierFile
			}
		}
		c := &models.Component{
			Key:       cf.Key,
			Name:      cf.Name,
			LongName:  cf.LongName,
			Qualifier: qualifier,
			Scope:     scopeOf(qualifier),
			Path:      cf.Path,
			Language:  cf.Language,
			Enabled:   cf.Enabled == nil || *cf.Enabled,
		}
		if c.Name == "" {
			c.Name = cf.Key
		}
		if cf.Parent != "" {
			parent, ok := byKey[cf.Parent]
			if !ok {
				return stats, fmt.Errorf("component %s: parent %s must be listed before it", cf.Key, cf.Parent)
			}
			c.ParentUUID = parent.UUID
			c.ProjectUUID = parent.ProjectUUID
			c.UUIDPath = parent.ChildUUIDPath()
		}
		if err := s.CreateComponent(ctx, c); err != nil {
			return stats, fmt.Errorf("component %s: %w", cf.Key, err)
		}
		byKey[c.Key] = c
		stats.Components++
	}

	componentUUID := func(key string) (string, error) {
		if key == "" {
			return "", nil
		}
		c, ok := byKey[key]
		if !ok {
			return "", fmt.Errorf("unknown component %s", key)
		}
		return c.UUID, nil
	}

	for _, rf := range f.Rules {
		status := rf.Status
		if status == "" {
			status = "READY"
		}
		if err := s.CreateRule(ctx, &models.Rule{Key: rf.Key, Name: rf.Name, Description: rf.Description, Status: status, Language: rf.Language}); err != nil {
			return stats, fmt.Errorf("rule %s: %w", rf.Key, err)
		}
		stats.Rules++
	}

	for _, uf := range f.Users {
		u := &models.User{Login: uf.Login, Name: uf.Name, Email: uf.Email, Active: uf.Active == nil || *uf.Active}
		if err := s.CreateUser(ctx, u); err != nil {
			return stats, fmt.Errorf("user %s: %w", uf.Login, err)
		}
		for _, g := range uf.Groups {
			if err := s.AddUserToGroup(ctx, uf.Login, g); err != nil {
				return stats, fmt.Errorf("user %s: %w", uf.Login, err)
			}
		}
		stats.Users++
	}

	for i, gf := range f.Grants {
		g := models.Grant{Role: models.Role(gf.Role)}
		switch {
		case gf.User != "" && gf.Group == "":
			g.SubjectKind, g.Subject = models.SubjectUser, gf.User
		case gf.Group != "" && gf.User == "":
			g.SubjectKind, g.Subject = models.SubjectGroup, gf.Group
		default:
			return stats, fmt.Errorf("grant %d: exactly one of user or group is required", i+1)
		}
		uuid, err := componentUUID(gf.Component)
		if err != nil {
			return stats, fmt.Errorf("grant %d: %w", i+1, err)
		}
		g.ComponentUUID = uuid
		if err := s.AddGrant(ctx, g); err != nil {
			return stats, fmt.Errorf("grant %d: %w", i+1, err)
		}
		stats.Grants++
	}

	for _, pf := range f.ActionPlans {
		projectUUID, err := componentUUID(pf.Project)
		if err != nil {
			return stats, fmt.Errorf("action plan %s: %w", pf.Key, err)
		}
		p := &models.ActionPlan{Key: pf.Key, Name: pf.Name, Status: pf.Status, ProjectUUID: projectUUID, UserLogin: pf.User, Deadline: pf.Deadline}
		if err := s.SaveActionPlan(ctx, p); err != nil {
			return stats, fmt.Errorf("action plan %s: %w", pf.Key, err)
		}
		stats.ActionPlans++
	}

	for i, is := range f.Issues {
		uuid, err := componentUUID(is.Component)
		if err != nil || uuid == "" {
			return stats, fmt.Errorf("issue %d: component %q not found", i+1, is.Component)
		}
		issue := &models.Issue{
			Key:           is.Key,
			RuleKey:       is.Rule,
			ComponentUUID: uuid,
			ProjectUUID:   byKey[is.Component].ProjectUUID,
			Message:       is.Message,
			Line:          is.Line,
			Status:        is.Status,
			Resolution:    optional(is.Resolution),
			Severity:      models.Severity(is.Severity),
			Debt:          is.Debt,
			Assignee:      optional(is.Assignee),
			Reporter:      optional(is.Reporter),
			AuthorLogin:   optional(is.Author),
			ActionPlanKey: optional(is.ActionPlan),
			Attributes:    is.Attributes,
			CreatedAt:     is.CreatedAt,
			UpdatedAt:     is.UpdatedAt,
			ClosedAt:      is.ClosedAt,
		}
		if err := s.CreateIssue(ctx, issue); err != nil {
			return stats, fmt.Errorf("issue %d: %w", i+1, err)
		}
		stats.Issues++

		for _, cf := range is.Comments {
			change := &models.IssueChange{IssueKey: issue.Key, Kind: models.ChangeComment, UserLogin: cf.Login, Data: cf.Text, CreatedAt: cf.CreatedAt}
			if err := s.AddIssueChange(ctx, change); err != nil {
				return stats, fmt.Errorf("issue %d comment: %w", i+1, err)
			}
			stats.Comments++
		}
	}
	return stats, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
