// Package authz decides which components a caller may see and resolves a requested search scope.
package authz

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joescharf/isq/internal/models"
)

// Authorizer answers permission questions over an immutable grant snapshot.
// It performs no I/O.
type Authorizer struct {
	grants []models.Grant
}

// NewAuthorizer builds an Authorizer over a copy of grants.
func NewAuthorizer(grants []models.Grant) *Authorizer {
	return &Authorizer{grants: append([]models.Grant(nil), grants...)}
}

// HasGlobal reports whether the caller holds role globally.
func (a *Authorizer) HasGlobal(caller models.Caller, role models.Role) bool {
	for _, g := range a.grants {
		if g.IsGlobal() && g.Role == role && caller.Matches(g) {
			return true
		}
	}
	return false
}

// HasRole reports whether the caller holds role on exactly componentUUID.
func (a *Authorizer) HasRole(caller models.Caller, componentUUID string, role models.Role) bool {
	if componentUUID == "" {
		return false
	}
	for _, g := range a.grants {
		if g.ComponentUUID == componentUUID && g.Role == role && caller.Matches(g) {
			return true
		}
	}
	return false
}

// HasRoleOn reports whether the caller holds role on c, one of its ancestors or its project.
func (a *Authorizer) HasRoleOn(caller models.Caller, c *models.Component, role models.Role) bool {
	if c == nil {
		return false
	}
	for _, uuid := range lineage(c) {
		if a.HasRole(caller, uuid, role) {
			return true
		}
	}
	return false
}

// CanView reports whether the caller may see issues on c: CODEVIEWER on the component or
// above it, or the global administrative permission. Disabled components are judged the same way.
func (a *Authorizer) CanView(caller models.Caller, c *models.Component) bool {
	if a.HasGlobal(caller, models.RoleAdmin) {
		return true
	}
	return a.HasRoleOn(caller, c, models.RoleCodeViewer)
}

// Granted returns the component uuids on which the caller holds role directly.
func (a *Authorizer) Granted(caller models.Caller, role models.Role) sets.Set[string] {
	out := sets.New[string]()
	for _, g := range a.grants {
		if !g.IsGlobal() && g.Role == role && caller.Matches(g) {
			out.Insert(g.ComponentUUID)
		}
	}
	return out
}

// lineage lists c, its ancestors and its project.
func lineage(c *models.Component) []string {
	out := []string{c.UUID}
	out = append(out, c.Ancestors()...)
	if c.ProjectUUID != "" {
		out = append(out, c.ProjectUUID)
	}
	return out
}
