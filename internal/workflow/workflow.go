// Package workflow lists the actions and status transitions available on an issue.
package workflow

import "github.com/joescharf/isq/internal/models"

// Actions.
const (
	ActionComment     = "comment"
	ActionAssign      = "assign"
	ActionAssignToMe  = "assign_to_me"
	ActionPlan        = "plan"
	ActionSetSeverity = "set_severity"
)

// Transitions.
const (
	TransitionConfirm       = "confirm"
	TransitionUnconfirm     = "unconfirm"
	TransitionResolve       = "resolve"
	TransitionReopen        = "reopen"
	TransitionFalsePositive = "falsepositive"
)

// Issue is the part of an issue the workflow looks at.
type Issue struct {
	Status     string
	Resolution string // "" when unresolved
	Assignee   string
}

// Permissions is what the caller may do on the issue's project.
type Permissions struct {
	Caller     models.Caller
	IssueAdmin bool
}

type transition struct {
	key        string
	from       []string
	issueAdmin bool
}

var transitions = []transition{
	{key: TransitionConfirm, from: []string{models.StatusOpen, models.StatusReopened}},
	{key: TransitionUnconfirm, from: []string{models.StatusConfirmed}},
	{key: TransitionResolve, from: []string{models.StatusOpen, models.StatusReopened, models.StatusConfirmed}},
	{key: TransitionFalsePositive, from: []string{models.StatusOpen, models.StatusReopened, models.StatusConfirmed}, issueAdmin: true},
	{key: TransitionReopen, from: []string{models.StatusResolved}},
}

// Actions returns the actions the caller may run on issue. Anonymous callers get none.
func Actions(issue Issue, perms Permissions) []string {
	if !perms.Caller.IsLoggedIn() {
		return []string{}
	}
	actions := []string{ActionComment}
	if issue.Resolution == "" {
		actions = append(actions, ActionAssign)
		if issue.Assignee != perms.Caller.Login {
			actions = append(actions, ActionAssignToMe)
		}
		actions = append(actions, ActionPlan)
		if perms.IssueAdmin {
			actions = append(actions, ActionSetSeverity)
		}
	}
	return actions
}

// Transitions returns the status transitions the caller may apply to issue, in workflow order.
func Transitions(issue Issue, perms Permissions) []string {
	out := []string{}
	if !perms.Caller.IsLoggedIn() {
		return out
	}
	for _, t := range transitions {
		if t.issueAdmin && !perms.IssueAdmin {
			continue
		}
		for _, from := range t.from {
			if from == issue.Status {
				out = append(out, t.key)
				break
			}
		}
	}
	return out
}
