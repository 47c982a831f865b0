package authz

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/store"
)

func anyone(uuid string, role models.Role) models.Grant {
	return models.Grant{SubjectKind: models.SubjectGroup, Subject: models.GroupAnyone, ComponentUUID: uuid, Role: role}
}

func TestAuthorizer_CanView(t *testing.T) {
	project := &models.Component{UUID: "P", UUIDPath: "."}
	module := &models.Component{UUID: "M", ProjectUUID: "P", ParentUUID: "P", UUIDPath: ".P."}
	file := &models.Component{UUID: "F", ProjectUUID: "P", ParentUUID: "M", UUIDPath: ".P.M.", Enabled: false}
	other := &models.Component{UUID: "Q", UUIDPath: "."}

	john := models.Caller{Login: "john", Groups: []string{"devs"}}
	anon := models.Anonymous()

	t.Run("project grant covers descendants", func(t *testing.T) {
		a := NewAuthorizer([]models.Grant{anyone("P", models.RoleCodeViewer)})
		assert.True(t, a.CanView(anon, project))
		assert.True(t, a.CanView(anon, module))
		assert.True(t, a.CanView(anon, file), "disabled components stay visible through their project")
		assert.False(t, a.CanView(anon, other))
	})

	t.Run("user role is not enough", func(t *testing.T) {
		a := NewAuthorizer([]models.Grant{anyone("P", models.RoleUser)})
		assert.False(t, a.CanView(john, file))
	})

	t.Run("module grant does not cover project", func(t *testing.T) {
		a := NewAuthorizer([]models.Grant{{SubjectKind: models.SubjectGroup, Subject: "devs", ComponentUUID: "M", Role: models.RoleCodeViewer}})
		assert.True(t, a.CanView(john, file))
		assert.True(t, a.CanView(john, module))
		assert.False(t, a.CanView(john, project))
		assert.False(t, a.CanView(anon, file), "anonymous is not in devs")
	})

	t.Run("global admin sees everything", func(t *testing.T) {
		a := NewAuthorizer([]models.Grant{{SubjectKind: models.SubjectUser, Subject: "john", Role: models.RoleAdmin}})
		assert.True(t, a.CanView(john, other))
		assert.True(t, a.HasGlobal(john, models.RoleAdmin))
		assert.False(t, a.CanView(anon, other))
	})

	t.Run("user grant never matches anonymous", func(t *testing.T) {
		a := NewAuthorizer([]models.Grant{{SubjectKind: models.SubjectUser, Subject: "", ComponentUUID: "P", Role: models.RoleCodeViewer}})
		assert.False(t, a.CanView(anon, project))
	})
}

func TestAuthorizer_HasRole(t *testing.T) {
	john := models.Caller{Login: "john"}
	a := NewAuthorizer([]models.Grant{
		{SubjectKind: models.SubjectUser, Subject: "john", ComponentUUID: "P", Role: models.RoleIssueAdmin},
	})
	file := &models.Component{UUID: "F", ProjectUUID: "P", ParentUUID: "P", UUIDPath: ".P."}

	assert.True(t, a.HasRole(john, "P", models.RoleIssueAdmin))
	assert.False(t, a.HasRole(john, "F", models.RoleIssueAdmin))
	assert.True(t, a.HasRoleOn(john, file, models.RoleIssueAdmin))
	assert.False(t, a.HasRole(john, "", models.RoleIssueAdmin))
	assert.Equal(t, sets.New("P"), a.Granted(john, models.RoleIssueAdmin))
}

type fixture struct {
	store                           *store.SQLiteStore
	project, module, file, disabled *models.Component
	other, otherFile                *models.Component
}

// newFixture builds: project P (Anyone: codeviewer) > module M > file F, disabled file D under P;
// project Q (only group "q-team" is codeviewer) > file G.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "isq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	f := &fixture{store: s}
	create := func(c *models.Component) *models.Component {
		require.NoError(t, s.CreateComponent(ctx, c))
		return c
	}
	child := func(parent *models.Component, key, qualifier string, enabled bool) *models.Component {
		project := parent.ProjectUUID
		return create(&models.Component{Key: key, Name: key, Qualifier: qualifier, Scope: models.ScopeFile, Enabled: enabled,
			ProjectUUID: project, ParentUUID: parent.UUID, UUIDPath: parent.ChildUUIDPath()})
	}

	f.project = create(&models.Component{Key: "MyProject", Qualifier: models.QualifierProject, Scope: models.ScopeProject, Enabled: true})
	f.module = child(f.project, "MyModule", models.QualifierModule, true)
	f.file = child(f.module, "MyComponent", models.QualifierFile, true)
	f.disabled = child(f.project, "RemovedComponent", models.QualifierFile, false)
	f.other = create(&models.Component{Key: "Secret", Qualifier: models.QualifierProject, Scope: models.ScopeProject, Enabled: true})
	f.otherFile = child(f.other, "SecretFile", models.QualifierFile, true)

	require.NoError(t, s.AddGrant(ctx, anyone(f.project.UUID, models.RoleUser)))
	require.NoError(t, s.AddGrant(ctx, anyone(f.project.UUID, models.RoleCodeViewer)))
	require.NoError(t, s.AddGrant(ctx, models.Grant{SubjectKind: models.SubjectGroup, Subject: "q-team", ComponentUUID: f.other.UUID, Role: models.RoleCodeViewer}))
	require.NoError(t, s.AddGrant(ctx, models.Grant{SubjectKind: models.SubjectUser, Subject: "admin", Role: models.RoleAdmin}))
	return f
}

func TestResolver_Visibility(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store)
	ctx := context.Background()

	scope, err := r.Resolve(ctx, models.Anonymous(), ScopeRequest{})
	require.NoError(t, err)
	assert.False(t, scope.Visible.All)
	assert.Equal(t, sets.New(f.project.UUID), scope.Visible.Projects)
	assert.Nil(t, scope.Components)
	assert.Nil(t, scope.Projects)
	assert.Equal(t, 0, scope.ComponentCount())

	scope, err = r.Resolve(ctx, models.Caller{Login: "bob", Groups: []string{"q-team"}}, ScopeRequest{})
	require.NoError(t, err)
	assert.Equal(t, sets.New(f.project.UUID, f.other.UUID), scope.Visible.Projects)

	scope, err = r.Resolve(ctx, models.Caller{Login: "admin"}, ScopeRequest{})
	require.NoError(t, err)
	assert.True(t, scope.Visible.All)
	assert.False(t, scope.Visible.Empty())
}

func TestResolver_SubtreeGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddGrant(ctx, models.Grant{SubjectKind: models.SubjectUser, Subject: "eve", ComponentUUID: f.module.UUID, Role: models.RoleCodeViewer}))

	scope, err := NewResolver(f.store).Resolve(ctx, models.Caller{Login: "eve"}, ScopeRequest{})
	require.NoError(t, err)
	assert.True(t, scope.Visible.Components.Has(f.module.UUID))
	assert.True(t, scope.Visible.Components.Has(f.file.UUID))
}

func TestResolver_RequestedComponents(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.store)
	ctx := context.Background()
	anon := models.Anonymous()

	t.Run("keys and uuids share one representation", func(t *testing.T) {
		scope, err := r.Resolve(ctx, anon, ScopeRequest{ComponentKeys: []string{"MyComponent"}, ComponentUUIDs: []string{f.disabled.UUID}})
		require.NoError(t, err)
		assert.Equal(t, sets.New(f.file.UUID, f.disabled.UUID), scope.Components)
		assert.Equal(t, 2, scope.ComponentCount())
	})

	t.Run("invisible and unknown items are dropped", func(t *testing.T) {
		scope, err := r.Resolve(ctx, anon, ScopeRequest{ComponentKeys: []string{"MyComponent", "SecretFile", "Nope"}})
		require.NoError(t, err)
		assert.Equal(t, sets.New(f.file.UUID), scope.Components)
	})

	t.Run("nothing visible gives an empty non-nil scope", func(t *testing.T) {
		scope, err := r.Resolve(ctx, anon, ScopeRequest{ComponentUUIDs: []string{"unknown"}})
		require.NoError(t, err)
		require.NotNil(t, scope.Components)
		assert.Equal(t, 0, scope.Components.Len())
	})

	t.Run("roots expand to descendants", func(t *testing.T) {
		scope, err := r.Resolve(ctx, anon, ScopeRequest{ComponentRootKeys: []string{"MyProject"}})
		require.NoError(t, err)
		assert.Equal(t, sets.New(f.project.UUID, f.module.UUID, f.file.UUID, f.disabled.UUID), scope.Components)

		scope, err = r.Resolve(ctx, anon, ScopeRequest{ComponentRootUUIDs: []string{f.module.UUID}})
		require.NoError(t, err)
		assert.Equal(t, sets.New(f.module.UUID, f.file.UUID), scope.Components)
	})

	t.Run("projects", func(t *testing.T) {
		scope, err := r.Resolve(ctx, anon, ScopeRequest{ProjectKeys: []string{"MyProject", "Secret"}})
		require.NoError(t, err)
		assert.Equal(t, sets.New(f.project.UUID), scope.Projects)

		scope, err = r.Resolve(ctx, anon, ScopeRequest{ProjectUUIDs: []string{"unknown"}})
		require.NoError(t, err)
		require.NotNil(t, scope.Projects)
		assert.Equal(t, 0, scope.Projects.Len())
	})
}
