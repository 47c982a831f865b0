package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/isq/internal/models"
	"github.com/joescharf/isq/internal/response"
)

const sampleFixtures = `
components:
  - {key: sample, name: Sample, qualifier: TRK}
  - {key: "sample:core", name: Core, qualifier: BRC, parent: sample}
  - {key: "sample:core:src/Foo.xoo", name: Foo.xoo, qualifier: FIL, parent: "sample:core", path: src/Foo.xoo}
  - {key: secret, name: Secret, qualifier: TRK}
  - {key: "secret:Bar.xoo", name: Bar.xoo, parent: secret, path: Bar.xoo}
rules:
  - {key: "xoo:x1", name: Rule One, language: xoo}
  - {key: "xoo:x2", name: Rule Two, language: xoo}
users:
  - {login: john, name: John Doe, groups: [devs]}
grants:
  - {group: devs, component: sample, role: codeviewer}
  - {user: root, role: admin}
action_plans:
  - {key: AP-1, name: Sprint 1, project: sample}
issues:
  - key: ISSUE-1
    component: "sample:core:src/Foo.xoo"
    rule: "xoo:x1"
    severity: BLOCKER
    line: 12
    message: Fix it
    debt: 130
    assignee: john
    action_plan: AP-1
    attributes: {jira-issue-key: SONAR-1}
    created_at: 2014-09-04T10:00:00Z
    comments:
      - {login: john, text: "*on it*", created_at: 2014-09-05T10:00:00Z}
  - key: ISSUE-2
    component: "sample:core:src/Foo.xoo"
    rule: "xoo:x2"
    severity: MINOR
    status: RESOLVED
    resolution: FIXED
    created_at: 2014-09-03T10:00:00Z
  - key: ISSUE-3
    component: "secret:Bar.xoo"
    rule: "xoo:x1"
`

func writeFixtures(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestImportFixtures(t *testing.T) {
	dir := testEnv(t)
	captureUI(t)
	ctx := context.Background()

	f, err := loadFixtures(writeFixtures(t, dir, sampleFixtures))
	require.NoError(t, err)
	s, err := getStore()
	require.NoError(t, err)

	stats, err := importFixtures(ctx, s, f)
	require.NoError(t, err)
	assert.Equal(t, importStats{Components: 5, Rules: 2, Users: 1, Grants: 2, ActionPlans: 1, Issues: 3, Comments: 1}, stats)

	comps, err := s.GetComponentsByKeys(ctx, []string{"sample", "sample:core", "sample:core:src/Foo.xoo"})
	require.NoError(t, err)
	require.Len(t, comps, 3)
	byKey := map[string]*models.Component{}
	for _, c := range comps {
		byKey[c.Key] = c
	}
	project, module, file := byKey["sample"], byKey["sample:core"], byKey["sample:core:src/Foo.xoo"]
	assert.Equal(t, models.ScopeProject, module.Scope)
	assert.Equal(t, models.ScopeFile, file.Scope)
	assert.Equal(t, project.UUID, file.ProjectUUID)
	assert.Equal(t, "."+project.UUID+"."+module.UUID+".", file.UUIDPath)

	groups, err := s.ListUserGroups(ctx, "john")
	require.NoError(t, err)
	assert.Equal(t, []string{"devs"}, groups)
}

func TestImportFixtures_ParentMustComeFirst(t *testing.T) {
	dir := testEnv(t)
	f, err := loadFixtures(writeFixtures(t, dir, `
components:
  - {key: "a:b", parent: a}
  - {key: a}
`))
	require.NoError(t, err)
	s, err := getStore()
	require.NoError(t, err)

	_, err = importFixtures(context.Background(), s, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be listed before")
}

func TestImportFixtures_GrantNeedsOneSubject(t *testing.T) {
	dir := testEnv(t)
	f, err := loadFixtures(writeFixtures(t, dir, `
grants:
  - {user: a, group: b, role: admin}
`))
	require.NoError(t, err)
	s, err := getStore()
	require.NoError(t, err)

	_, err = importFixtures(context.Background(), s, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of user or group")
}

func TestLoadFixtures_Invalid(t *testing.T) {
	dir := testEnv(t)

	_, err := loadFixtures(writeFixtures(t, dir, "components: [{key: a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse fixtures")
}

func TestImportRun_ThenSearch(t *testing.T) {
	dir := testEnv(t)
	out, _ := captureUI(t)
	ctx := context.Background()

	require.NoError(t, importRun(ctx, writeFixtures(t, dir, sampleFixtures)))
	assert.Contains(t, out.String(), "Indexed 3 issues")

	searchJSON = true
	searchAs = "john"
	t.Cleanup(func() { searchJSON, searchAs = false, "" })

	out.Reset()
	params, err := parseSearchArgs([]string{"facets=severities", "extra_fields=assigneeName,actionPlanName"})
	require.NoError(t, err)
	require.NoError(t, searchRun(ctx, params))

	var payload response.Payload
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	assert.Equal(t, 2, payload.Total, "secret project is not visible to john")
	require.Len(t, payload.Issues, 2)
	first := payload.Issues[0]
	assert.Equal(t, "ISSUE-1", first.Key)
	assert.Equal(t, "2h10min", first.Debt)
	assert.Equal(t, "John Doe", first.AssigneeName)
	assert.Equal(t, "Sprint 1", first.ActionPlanName)
	assert.Equal(t, "SONAR-1", first.Attr["jira-issue-key"])
	require.Len(t, first.Comments, 1)
	assert.Contains(t, first.Comments[0].HTMLText, "<em>on it</em>")
	require.Len(t, payload.Facets, 1)
	assert.Equal(t, "severities", payload.Facets[0].Property)

	searchAs = ""
	out.Reset()
	require.NoError(t, searchRun(ctx, nil))
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	assert.Equal(t, 0, payload.Total, "anonymous sees nothing")
}

func TestImportRun_DryRun(t *testing.T) {
	dir := testEnv(t)
	_, errOut := captureUI(t)
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() { dryRun = false })

	require.NoError(t, importRun(context.Background(), writeFixtures(t, dir, sampleFixtures)))
	assert.Contains(t, errOut.String(), "Would import 5 components")
	_, err := os.Stat(filepath.Join(dir, "isq.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestImportRun_RequiresSQLiteStore(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("ISQ_STORE_DRIVER", "postgres")

	err := importRun(context.Background(), writeFixtures(t, dir, sampleFixtures))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestParseSearchArgs(t *testing.T) {
	params, err := parseSearchArgs([]string{"statuses=OPEN,REOPENED", "createdAfter=2014-01-01T00:00:00+0100", "p=2"})
	require.NoError(t, err)
	assert.Equal(t, "OPEN,REOPENED", params.Get("statuses"))
	assert.Equal(t, "2014-01-01T00:00:00+0100", params.Get("createdAfter"))
	assert.Equal(t, "2", params.Get("p"))

	_, err = parseSearchArgs([]string{"statuses"})
	assert.Error(t, err)
	_, err = parseSearchArgs([]string{"=OPEN"})
	assert.Error(t, err)
}

func TestSearchRun_Table(t *testing.T) {
	dir := testEnv(t)
	out, _ := captureUI(t)
	ctx := context.Background()
	require.NoError(t, importRun(ctx, writeFixtures(t, dir, sampleFixtures)))

	searchAs = "root"
	t.Cleanup(func() { searchAs = "" })
	out.Reset()
	require.NoError(t, searchRun(ctx, nil))
	text := out.String()
	assert.Contains(t, text, "ISSUE-1")
	assert.Contains(t, text, "ISSUE-3", "global admin sees every project")
	assert.Contains(t, text, "Foo.xoo:12")
}

func TestSearchRun_ValidationError(t *testing.T) {
	testEnv(t)
	captureUI(t)

	err := searchRun(context.Background(), map[string][]string{"sort": {"NOPE"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sort")
}
