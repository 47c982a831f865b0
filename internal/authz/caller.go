package authz

import (
	"context"
	"fmt"

	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/store"
)

// LoadCaller builds the identity of login with its groups. An empty login is anonymous.
func LoadCaller(ctx context.Context, s store.Reader, login string) (models.Caller, error) {
	if login == "" {
		return models.Anonymous(), nil
	}
	groups, err := s.ListUserGroups(ctx, login)
	if err != nil {
		return models.Caller{}, fmt.Errorf("load groups of %s: %w", login, err)
	}
	return models.Caller{Login: login, Groups: groups}, nil
}
