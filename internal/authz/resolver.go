package authz

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/store"
)

// ScopeRequest is the component and project scope named by a search, before resolution.
// Keys and uuids end up in the same representation once resolved.
type ScopeRequest struct {
	ComponentKeys      []string
	ComponentUUIDs     []string
	ComponentRootKeys  []string // expanded to every descendant
	ComponentRootUUIDs []string // expanded to every descendant
	ProjectKeys        []string
	ProjectUUIDs       []string
}

// HasComponents reports whether any component-level scope was requested.
func (r ScopeRequest) HasComponents() bool {
	return len(r.ComponentKeys)+len(r.ComponentUUIDs)+len(r.ComponentRootKeys)+len(r.ComponentRootUUIDs) > 0
}

// HasProjects reports whether a project scope was requested.
func (r ScopeRequest) HasProjects() bool {
	return len(r.ProjectKeys)+len(r.ProjectUUIDs) > 0
}

// Visibility is the universe of issues a caller may see regardless of the request.
// When All is false, an issue is visible if its project is in Projects or its component in Components.
type Visibility struct {
	All        bool
	Projects   sets.Set[string]
	Components sets.Set[string]
}

// Empty reports whether nothing is visible.
func (v Visibility) Empty() bool {
	return !v.All && v.Projects.Len() == 0 && v.Components.Len() == 0
}

// Scope is the resolved effective scope of a search.
// Components and Projects are nil when the request did not name them; non-nil but empty
// means the request named only things the caller cannot see, or that do not exist.
type Scope struct {
	Caller     models.Caller
	Authorizer *Authorizer
	Visible    Visibility
	Components sets.Set[string]
	Projects   sets.Set[string]
}

// ComponentCount is the size of the effective component scope, 0 when none was requested.
func (s *Scope) ComponentCount() int {
	return s.Components.Len()
}

// Resolver computes the effective scope of a caller's search from the persistence layer.
type Resolver struct {
	store store.Reader
}

// NewResolver creates a Resolver reading grants and components from s.
func NewResolver(s store.Reader) *Resolver {
	return &Resolver{store: s}
}

// Resolve loads the caller's grants and resolves req against them. Items the caller cannot
// view are dropped without error.
func (r *Resolver) Resolve(ctx context.Context, caller models.Caller, req ScopeRequest) (*Scope, error) {
	grants, err := r.store.ListGrantsForSubjects(ctx, caller.Login, caller.GroupNames())
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	auth := NewAuthorizer(grants)

	scope := &Scope{Caller: caller, Authorizer: auth}
	if scope.Visible, err = r.visibility(ctx, caller, auth); err != nil {
		return nil, err
	}

	if req.HasComponents() {
		if scope.Components, err = r.resolveComponents(ctx, caller, auth, req); err != nil {
			return nil, err
		}
	}
	if req.HasProjects() {
		if scope.Projects, err = r.resolveProjects(ctx, caller, auth, req); err != nil {
			return nil, err
		}
	}
	return scope, nil
}

func (r *Resolver) visibility(ctx context.Context, caller models.Caller, auth *Authorizer) (Visibility, error) {
	if auth.HasGlobal(caller, models.RoleAdmin) {
		return Visibility{All: true}, nil
	}

	vis := Visibility{Projects: sets.New[string](), Components: sets.New[string]()}
	granted := auth.Granted(caller, models.RoleCodeViewer)
	if granted.Len() == 0 {
		return vis, nil
	}

	comps, err := r.store.GetComponentsByUUIDs(ctx, sets.List(granted))
	if err != nil {
		return vis, fmt.Errorf("load granted components: %w", err)
	}
	for _, c := range comps {
		if c.IsProject() {
			vis.Projects.Insert(c.UUID)
			continue
		}
		// A grant below project level covers the subtree.
		vis.Components.Insert(c.UUID)
		desc, err := r.store.ListDescendantUUIDs(ctx, c.UUID)
		if err != nil {
			return vis, fmt.Errorf("load descendants of %s: %w", c.Key, err)
		}
		vis.Components.Insert(desc...)
	}
	return vis, nil
}

func (r *Resolver) resolveComponents(ctx context.Context, caller models.Caller, auth *Authorizer, req ScopeRequest) (sets.Set[string], error) {
	direct, err := r.lookup(ctx, req.ComponentKeys, req.ComponentUUIDs)
	if err != nil {
		return nil, err
	}
	roots, err := r.lookup(ctx, req.ComponentRootKeys, req.ComponentRootUUIDs)
	if err != nil {
		return nil, err
	}

	candidates := append([]*models.Component{}, direct...)
	if len(roots) > 0 {
		descendants := sets.New[string]()
		for _, root := range roots {
			candidates = append(candidates, root)
			desc, err := r.store.ListDescendantUUIDs(ctx, root.UUID)
			if err != nil {
				return nil, fmt.Errorf("load descendants of %s: %w", root.Key, err)
			}
			descendants.Insert(desc...)
		}
		if descendants.Len() > 0 {
			comps, err := r.store.GetComponentsByUUIDs(ctx, sets.List(descendants))
			if err != nil {
				return nil, fmt.Errorf("load descendants: %w", err)
			}
			candidates = append(candidates, comps...)
		}
	}

	out := sets.New[string]()
	for _, c := range candidates {
		if auth.CanView(caller, c) {
			out.Insert(c.UUID)
		}
	}
	return out, nil
}

func (r *Resolver) resolveProjects(ctx context.Context, caller models.Caller, auth *Authorizer, req ScopeRequest) (sets.Set[string], error) {
	comps, err := r.lookup(ctx, req.ProjectKeys, req.ProjectUUIDs)
	if err != nil {
		return nil, err
	}
	out := sets.New[string]()
	for _, c := range comps {
		if auth.CanView(caller, c) {
			out.Insert(c.UUID)
		}
	}
	return out, nil
}

// lookup loads the components named by keys or uuids. Unknown references are skipped.
func (r *Resolver) lookup(ctx context.Context, keys, uuids []string) ([]*models.Component, error) {
	var out []*models.Component
	if len(keys) > 0 {
		comps, err := r.store.GetComponentsByKeys(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("resolve component keys: %w", err)
		}
		out = append(out, comps...)
	}
	if len(uuids) > 0 {
		comps, err := r.store.GetComponentsByUUIDs(ctx, uuids)
		if err != nil {
			return nil, fmt.Errorf("resolve component uuids: %w", err)
		}
		out = append(out, comps...)
	}
	return out, nil
}
