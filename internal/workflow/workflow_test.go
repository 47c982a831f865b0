package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/isq/internal/models"
)

func TestActions(t *testing.T) {
	john := models.Caller{Login: "john"}

	tests := []struct {
		name  string
		issue Issue
		perms Permissions
		want  []string
	}{
		{"anonymous", Issue{Status: models.StatusOpen}, Permissions{}, []string{}},
		{"unresolved", Issue{Status: models.StatusOpen, Assignee: "simon"}, Permissions{Caller: john},
			[]string{"comment", "assign", "assign_to_me", "plan"}},
		{"already assigned to me", Issue{Status: models.StatusOpen, Assignee: "john"}, Permissions{Caller: john},
			[]string{"comment", "assign", "plan"}},
		{"issue admin", Issue{Status: models.StatusOpen}, Permissions{Caller: john, IssueAdmin: true},
			[]string{"comment", "assign", "assign_to_me", "plan", "set_severity"}},
		{"resolved", Issue{Status: models.StatusResolved, Resolution: models.ResolutionFixed}, Permissions{Caller: john, IssueAdmin: true},
			[]string{"comment"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Actions(tt.issue, tt.perms))
		})
	}
}

func TestTransitions(t *testing.T) {
	john := models.Caller{Login: "john"}
	user := Permissions{Caller: john}
	admin := Permissions{Caller: john, IssueAdmin: true}

	assert.Equal(t, []string{}, Transitions(Issue{Status: models.StatusOpen}, Permissions{}))
	assert.Equal(t, []string{"confirm", "resolve"}, Transitions(Issue{Status: models.StatusOpen}, user))
	assert.Equal(t, []string{"confirm", "resolve", "falsepositive"}, Transitions(Issue{Status: models.StatusReopened}, admin))
	assert.Equal(t, []string{"unconfirm", "resolve", "falsepositive"}, Transitions(Issue{Status: models.StatusConfirmed}, admin))
	assert.Equal(t, []string{"reopen"}, Transitions(Issue{Status: models.StatusResolved, Resolution: "FIXED"}, user))
	assert.Equal(t, []string{}, Transitions(Issue{Status: models.StatusClosed, Resolution: "FIXED"}, admin))
}
