package search

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/isq/internal/authz"
	"github.com/joescharf/isq/internal/index"
	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/store"
	"github.com/joescharf/isq/internal/workflow"
)

// Extras holds the optional fields of one issue. Empty names mean the field was not
// requested or its reference is dangling.
type Extras struct {
	Actions        []string
	Transitions    []string
	AssigneeName   string
	ReporterName   string
	ActionPlanName string
}

// Enricher resolves extra fields for a page of hits.
type Enricher struct {
	store store.Reader
}

// NewEnricher creates an Enricher reading users and action plans from s.
func NewEnricher(s store.Reader) *Enricher {
	return &Enricher{store: s}
}

// Enrich returns extras keyed by issue key. Only the requested lookups run, concurrently.
func (en *Enricher) Enrich(ctx context.Context, scope *authz.Scope, hits []index.Document, q *Query) (map[string]*Extras, error) {
	out := make(map[string]*Extras, len(hits))
	if len(q.ExtraFields) == 0 || len(hits) == 0 {
		return out, nil
	}
	for _, h := range hits {
		out[h.Key] = &Extras{}
	}

	var users map[string]*models.User
	var plans map[string]*models.ActionPlan

	g, gctx := errgroup.WithContext(ctx)
	if q.HasExtra(ExtraAssigneeName) || q.HasExtra(ExtraReporterName) {
		g.Go(func() error {
			var err error
			users, err = en.loadUsers(gctx, hits, q)
			return err
		})
	}
	if q.HasExtra(ExtraActionPlanName) {
		g.Go(func() error {
			var err error
			plans, err = en.loadPlans(gctx, hits)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, h := range hits {
		ex := out[h.Key]
		if u, ok := users[h.Assignee]; ok && q.HasExtra(ExtraAssigneeName) {
			ex.AssigneeName = u.Name
		}
		if u, ok := users[h.Reporter]; ok && q.HasExtra(ExtraReporterName) {
			ex.ReporterName = u.Name
		}
		if p, ok := plans[h.ActionPlan]; ok {
			ex.ActionPlanName = p.Name
		}
		if q.HasExtra(ExtraActions) || q.HasExtra(ExtraTransitions) {
			issue := workflow.Issue{Status: h.Status, Resolution: h.Resolution, Assignee: h.Assignee}
			perms := workflow.Permissions{Caller: scope.Caller, IssueAdmin: isIssueAdmin(scope, &h)}
			if q.HasExtra(ExtraActions) {
				ex.Actions = workflow.Actions(issue, perms)
			}
			if q.HasExtra(ExtraTransitions) {
				ex.Transitions = workflow.Transitions(issue, perms)
			}
		}
	}
	return out, nil
}

// isIssueAdmin checks ISSUEADMIN on the issue's component, module or project.
func isIssueAdmin(scope *authz.Scope, h *index.Document) bool {
	if scope.Authorizer == nil {
		return false
	}
	for _, uuid := range []string{h.ComponentUUID, h.ModuleUUID, h.ProjectUUID} {
		if scope.Authorizer.HasRole(scope.Caller, uuid, models.RoleIssueAdmin) {
			return true
		}
	}
	return false
}

func (en *Enricher) loadUsers(ctx context.Context, hits []index.Document, q *Query) (map[string]*models.User, error) {
	var logins []string
	for _, h := range hits {
		if q.HasExtra(ExtraAssigneeName) && h.Assignee != "" && !slices.Contains(logins, h.Assignee) {
			logins = append(logins, h.Assignee)
		}
		if q.HasExtra(ExtraReporterName) && h.Reporter != "" && !slices.Contains(logins, h.Reporter) {
			logins = append(logins, h.Reporter)
		}
	}
	if len(logins) == 0 {
		return nil, nil
	}
	users, err := en.store.GetUsersByLogins(ctx, logins)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	out := make(map[string]*models.User, len(users))
	for _, u := range users {
		out[u.Login] = u
	}
	return out, nil
}

func (en *Enricher) loadPlans(ctx context.Context, hits []index.Document) (map[string]*models.ActionPlan, error) {
	var keys []string
	for _, h := range hits {
		if h.ActionPlan != "" && !slices.Contains(keys, h.ActionPlan) {
			keys = append(keys, h.ActionPlan)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	plans, err := en.store.GetActionPlansByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load action plans: %w", err)
	}
	out := make(map[string]*models.ActionPlan, len(plans))
	for _, p := range plans {
		out[p.Key] = p
	}
	return out, nil
}
