package store

import (
	"context"
	"errors"

	"github.com/joescharf/isq/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Reader is the read side of the persistence layer used by the search engine and the indexer.
// Lookups by key sets return only what exists: a dangling key is not an error.
type Reader interface {
	// Components
	GetComponentsByKeys(ctx context.Context, keys []string) ([]*models.Component, error)
	GetComponentsByUUIDs(ctx context.Context, uuids []string) ([]*models.Component, error)
	ListComponents(ctx context.Context) ([]*models.Component, error)
	ListDescendantUUIDs(ctx context.Context, uuid string) ([]string, error)

	// Permissions
	ListGrantsForSubjects(ctx context.Context, login string, groups []string) ([]models.Grant, error)
	ListUserGroups(ctx context.Context, login string) ([]string, error)

	// Weakly referenced entities
	GetUsersByLogins(ctx context.Context, logins []string) ([]*models.User, error)
	GetActionPlansByKeys(ctx context.Context, keys []string) ([]*models.ActionPlan, error)

	// Index sources
	ListRules(ctx context.Context) ([]*models.Rule, error)
	ListIssues(ctx context.Context) ([]*models.Issue, error)
}

// Store is the full persistence interface, including the writes used to load fixtures.
type Store interface {
	Reader

	CreateComponent(ctx context.Context, c *models.Component) error
	CreateRule(ctx context.Context, r *models.Rule) error
	CreateUser(ctx context.Context, u *models.User) error
	AddUserToGroup(ctx context.Context, login, group string) error
	AddGrant(ctx context.Context, g models.Grant) error
	SaveActionPlan(ctx context.Context, p *models.ActionPlan) error
	DeleteActionPlan(ctx context.Context, key string) error
	CreateIssue(ctx context.Context, issue *models.Issue) error
	AddIssueChange(ctx context.Context, change *models.IssueChange) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
