package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/isq/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

// seedTree creates project P > module M > file F, plus a second project Q with file G.
func seedTree(t *testing.T, s *SQLiteStore) (p, m, f, q, g *models.Component) {
	t.Helper()
	ctx := context.Background()

	p = &models.Component{Key: "proj", Name: "Project", Qualifier: models.QualifierProject, Scope: models.ScopeProject, Enabled: true}
	require.NoError(t, s.CreateComponent(ctx, p))

	m = &models.Component{Key: "proj:mod", Name: "Module", Qualifier: models.QualifierModule, Scope: models.ScopeProject,
		Enabled: true, ProjectUUID: p.UUID, ParentUUID: p.UUID, UUIDPath: p.ChildUUIDPath()}
	require.NoError(t, s.CreateComponent(ctx, m))

	f = &models.Component{Key: "proj:mod:src/Foo.java", Name: "Foo.java", Qualifier: models.QualifierFile, Scope: models.ScopeFile,
		Path: "src/Foo.java", Language: "java", Enabled: true, ProjectUUID: p.UUID, ParentUUID: m.UUID, UUIDPath: m.ChildUUIDPath()}
	require.NoError(t, s.CreateComponent(ctx, f))

	q = &models.Component{Key: "other", Name: "Other", Qualifier: models.QualifierProject, Scope: models.ScopeProject, Enabled: true}
	require.NoError(t, s.CreateComponent(ctx, q))

	g = &models.Component{Key: "other:Bar.go", Name: "Bar.go", Qualifier: models.QualifierFile, Scope: models.ScopeFile,
		Path: "Bar.go", Language: "go", Enabled: true, ProjectUUID: q.UUID, ParentUUID: q.UUID, UUIDPath: q.ChildUUIDPath()}
	require.NoError(t, s.CreateComponent(ctx, g))
	return p, m, f, q, g
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)

	err := s.Migrate(context.Background())
	assert.NoError(t, err)
}

// --- Components ---

func TestCreateComponent_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &models.Component{Key: "proj", Name: "Project", Qualifier: models.QualifierProject, Scope: models.ScopeProject, Enabled: true}
	require.NoError(t, s.CreateComponent(ctx, c))

	assert.Len(t, c.UUID, 26, "uuid should default to a ULID")
	assert.NotZero(t, c.ID)
	assert.Equal(t, c.UUID, c.ProjectUUID, "a root component is its own project")
	assert.Equal(t, ".", c.UUIDPath)
	assert.Equal(t, "Project", c.LongName)

	got, err := s.GetComponentsByKeys(ctx, []string{"proj"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
	assert.True(t, got[0].Enabled)
	assert.True(t, got[0].IsProject())
}

func TestCreateComponent_DuplicateKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateComponent(ctx, &models.Component{Key: "dup", Qualifier: models.QualifierProject, Scope: models.ScopeProject}))
	err := s.CreateComponent(ctx, &models.Component{Key: "dup", Qualifier: models.QualifierProject, Scope: models.ScopeProject})
	assert.Error(t, err)
}

func TestGetComponents_IgnoresUnknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, f, _, _ := seedTree(t, s)

	byKey, err := s.GetComponentsByKeys(ctx, []string{"proj", "missing"})
	require.NoError(t, err)
	require.Len(t, byKey, 1)
	assert.Equal(t, p.UUID, byKey[0].UUID)

	byUUID, err := s.GetComponentsByUUIDs(ctx, []string{f.UUID, "missing"})
	require.NoError(t, err)
	require.Len(t, byUUID, 1)
	assert.Equal(t, "src/Foo.java", byUUID[0].Path)
	assert.Equal(t, "java", byUUID[0].Language)

	none, err := s.GetComponentsByKeys(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListDescendantUUIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, m, f, q, g := seedTree(t, s)

	desc, err := s.ListDescendantUUIDs(ctx, p.UUID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m.UUID, f.UUID}, desc)

	desc, err = s.ListDescendantUUIDs(ctx, m.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.UUID}, desc)

	desc, err = s.ListDescendantUUIDs(ctx, q.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{g.UUID}, desc)

	desc, err = s.ListDescendantUUIDs(ctx, f.UUID)
	require.NoError(t, err)
	assert.Empty(t, desc)
}

func TestListDescendantUUIDs_WildcardCharactersMatchLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// "a_c" would match "abc" and "a%" would match anything under LIKE.
	abc := &models.Component{UUID: "abc", Key: "abc", Qualifier: models.QualifierProject, Scope: models.ScopeProject, Enabled: true}
	require.NoError(t, s.CreateComponent(ctx, abc))
	child := &models.Component{UUID: "abc-file", Key: "abc:f", Qualifier: models.QualifierFile, Scope: models.ScopeFile,
		Enabled: true, ProjectUUID: abc.UUID, ParentUUID: abc.UUID, UUIDPath: abc.ChildUUIDPath()}
	require.NoError(t, s.CreateComponent(ctx, child))

	for _, uuid := range []string{"a_c", "a%", "%", "_bc"} {
		desc, err := s.ListDescendantUUIDs(ctx, uuid)
		require.NoError(t, err)
		assert.Empty(t, desc, "uuid %q", uuid)
	}

	under := &models.Component{UUID: "a_c", Key: "a_c", Qualifier: models.QualifierProject, Scope: models.ScopeProject, Enabled: true}
	require.NoError(t, s.CreateComponent(ctx, under))
	leaf := &models.Component{UUID: "a_c-file", Key: "a_c:f", Qualifier: models.QualifierFile, Scope: models.ScopeFile,
		Enabled: true, ProjectUUID: under.UUID, ParentUUID: under.UUID, UUIDPath: under.ChildUUIDPath()}
	require.NoError(t, s.CreateComponent(ctx, leaf))

	desc, err := s.ListDescendantUUIDs(ctx, "a_c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_c-file"}, desc)
}

func TestListComponents(t *testing.T) {
	s := newTestStore(t)
	seedTree(t, s)

	all, err := s.ListComponents(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

// --- Users, groups and grants ---

func TestUsersAndGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &models.User{Login: "john", Name: "John", Email: "john@example.com", Active: true}))
	require.NoError(t, s.CreateUser(ctx, &models.User{Login: "jane", Name: "Jane", Active: true}))
	require.NoError(t, s.AddUserToGroup(ctx, "john", "devs"))
	require.NoError(t, s.AddUserToGroup(ctx, "john", "admins"))
	require.NoError(t, s.AddUserToGroup(ctx, "john", "devs"), "adding twice is a no-op")

	users, err := s.GetUsersByLogins(ctx, []string{"john", "ghost"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "John", users[0].Name)
	assert.True(t, users[0].Active)

	groups, err := s.ListUserGroups(ctx, "john")
	require.NoError(t, err)
	assert.Equal(t, []string{"admins", "devs"}, groups)

	groups, err = s.ListUserGroups(ctx, "jane")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestListGrantsForSubjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	grants := []models.Grant{
		{SubjectKind: models.SubjectGroup, Subject: models.GroupAnyone, ComponentUUID: "P1", Role: models.RoleCodeViewer},
		{SubjectKind: models.SubjectUser, Subject: "john", Role: models.RoleAdmin},
		{SubjectKind: models.SubjectUser, Subject: "jane", ComponentUUID: "P2", Role: models.RoleCodeViewer},
		{SubjectKind: models.SubjectGroup, Subject: "devs", ComponentUUID: "P3", Role: models.RoleIssueAdmin},
	}
	for _, g := range grants {
		require.NoError(t, s.AddGrant(ctx, g))
	}
	require.NoError(t, s.AddGrant(ctx, grants[0]), "duplicate grant is ignored")

	got, err := s.ListGrantsForSubjects(ctx, "john", []string{models.GroupAnyone})
	require.NoError(t, err)
	assert.Equal(t, []models.Grant{grants[0], grants[1]}, got)

	got, err = s.ListGrantsForSubjects(ctx, "", []string{models.GroupAnyone, "devs"})
	require.NoError(t, err)
	assert.Equal(t, []models.Grant{grants[0], grants[3]}, got)

	got, err = s.ListGrantsForSubjects(ctx, "", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- Action plans ---

func TestActionPlans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deadline := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := &models.ActionPlan{Name: "Sprint 1", ProjectUUID: "P", Deadline: &deadline}
	require.NoError(t, s.SaveActionPlan(ctx, plan))
	assert.NotEmpty(t, plan.Key)
	assert.Equal(t, "OPEN", plan.Status)

	got, err := s.GetActionPlansByKeys(ctx, []string{plan.Key, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Sprint 1", got[0].Name)
	require.NotNil(t, got[0].Deadline)
	assert.True(t, deadline.Equal(*got[0].Deadline))

	plan.Name = "Sprint 1b"
	require.NoError(t, s.SaveActionPlan(ctx, plan))
	got, err = s.GetActionPlansByKeys(ctx, []string{plan.Key})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Sprint 1b", got[0].Name)

	require.NoError(t, s.DeleteActionPlan(ctx, plan.Key))
	got, err = s.GetActionPlansByKeys(ctx, []string{plan.Key})
	require.NoError(t, err)
	assert.Empty(t, got)

	err = s.DeleteActionPlan(ctx, plan.Key)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Rules ---

func TestRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRule(ctx, &models.Rule{Key: "xoo:x1", Name: "Rule name", Language: "xoo"}))
	rules, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "READY", rules[0].Status)
	assert.Equal(t, "xoo", rules[0].Language)
}

// --- Issues ---

func TestCreateIssue_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, f, _, _ := seedTree(t, s)

	created := time.Date(2014, 9, 4, 12, 0, 0, 0, time.UTC)
	closed := created.Add(48 * time.Hour)
	debt := int64(10)
	issue := &models.Issue{
		RuleKey:       "xoo:x1",
		ComponentUUID: f.UUID,
		Message:       "the message",
		Line:          12,
		Status:        models.StatusClosed,
		Resolution:    strPtr(models.ResolutionFixed),
		Severity:      models.SeverityCritical,
		Debt:          &debt,
		Assignee:      strPtr("simon"),
		Reporter:      strPtr("fabrice"),
		AuthorLogin:   strPtr("John"),
		ActionPlanKey: strPtr("AP-1"),
		Attributes:    map[string]string{"jira-issue-key": "SONAR-1234"},
		CreatedAt:     created,
		ClosedAt:      &closed,
	}
	require.NoError(t, s.CreateIssue(ctx, issue))
	assert.Len(t, issue.Key, 36)
	assert.Equal(t, p.UUID, issue.ProjectUUID, "project is derived from the component")

	require.NoError(t, s.AddIssueChange(ctx, &models.IssueChange{
		IssueKey: issue.Key, UserLogin: "john", Data: "*My comment*", CreatedAt: created.Add(time.Hour),
	}))
	require.NoError(t, s.AddIssueChange(ctx, &models.IssueChange{
		IssueKey: issue.Key, Kind: models.ChangeDiff, UserLogin: "john", Data: "severity=MAJOR|CRITICAL", CreatedAt: created.Add(2 * time.Hour),
	}))

	issues, err := s.ListIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	got := issues[0]

	assert.Equal(t, issue.Key, got.Key)
	assert.Equal(t, 12, got.Line)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, models.ResolutionFixed, *got.Resolution)
	require.NotNil(t, got.Debt)
	assert.Equal(t, int64(10), *got.Debt)
	assert.Equal(t, "simon", *got.Assignee)
	assert.Equal(t, "fabrice", *got.Reporter)
	assert.Equal(t, "John", *got.AuthorLogin)
	assert.Equal(t, "AP-1", *got.ActionPlanKey)
	assert.Equal(t, map[string]string{"jira-issue-key": "SONAR-1234"}, got.Attributes)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.ClosedAt)
	assert.True(t, closed.Equal(*got.ClosedAt))

	require.Len(t, got.Changes, 2)
	comments := got.Comments()
	require.Len(t, comments, 1)
	assert.Equal(t, "*My comment*", comments[0].Data)
}

func TestCreateIssue_NullableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, f, _, _ := seedTree(t, s)

	require.NoError(t, s.CreateIssue(ctx, &models.Issue{RuleKey: "xoo:x1", ComponentUUID: f.UUID}))

	issues, err := s.ListIssues(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	got := issues[0]
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Equal(t, models.SeverityMajor, got.Severity)
	assert.Nil(t, got.Resolution)
	assert.Nil(t, got.Debt)
	assert.Nil(t, got.Assignee)
	assert.Nil(t, got.ClosedAt)
	assert.Empty(t, got.Attributes)
	assert.Empty(t, got.Changes)
}

func TestCreateIssue_UnknownComponent(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateIssue(context.Background(), &models.Issue{RuleKey: "xoo:x1", ComponentUUID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}
