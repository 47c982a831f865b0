package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/isq/internal/id"
	"github.com/joescharf/isq/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// openSQLite opens a database file with the pragmas shared by the store and the SQLite index.
func openSQLite(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection serializes
	// access and avoids "database is locked" errors under concurrent requests.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// OpenSQLite exposes the shared connection setup to sibling backends (the SQLite index).
func OpenSQLite(dbPath string) (*sql.DB, error) {
	return openSQLite(dbPath)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// placeholders returns "?,?,?" for n arguments and the arguments as []any.
func placeholders(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return strings.Join(marks, ","), args
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Components ---

const componentColumns = `id, uuid, kee, name, long_name, qualifier, scope, path, language, enabled, project_uuid, parent_uuid, uuid_path`

func scanComponent(row interface{ Scan(...any) error }) (*models.Component, error) {
	c := &models.Component{}
	err := row.Scan(&c.ID, &c.UUID, &c.Key, &c.Name, &c.LongName, &c.Qualifier, &c.Scope, &c.Path,
		&c.Language, &c.Enabled, &c.ProjectUUID, &c.ParentUUID, &c.UUIDPath)
	return c, err
}

// CreateComponent inserts a component. Missing ids are generated; a component without a
// parent becomes its own project.
func (s *SQLiteStore) CreateComponent(ctx context.Context, c *models.Component) error {
	if c.UUID == "" {
		c.UUID = id.ULID()
	}
	if c.ID == 0 {
		c.ID = id.Numeric()
	}
	if c.ParentUUID == "" {
		c.ProjectUUID = c.UUID
		c.UUIDPath = "."
	}
	if c.UUIDPath == "" {
		c.UUIDPath = "."
	}
	if c.LongName == "" {
		c.LongName = c.Name
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO components (`+componentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UUID, c.Key, c.Name, c.LongName, c.Qualifier, c.Scope, c.Path, c.Language,
		boolToInt(c.Enabled), c.ProjectUUID, c.ParentUUID, c.UUIDPath,
	)
	if err != nil {
		return fmt.Errorf("create component: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryComponents(ctx context.Context, where string, args ...any) ([]*models.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY kee"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetComponentsByKeys(ctx context.Context, keys []string) ([]*models.Component, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	marks, args := placeholders(keys)
	return s.queryComponents(ctx, "kee IN ("+marks+")", args...)
}

func (s *SQLiteStore) GetComponentsByUUIDs(ctx context.Context, uuids []string) ([]*models.Component, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	marks, args := placeholders(uuids)
	return s.queryComponents(ctx, "uuid IN ("+marks+")", args...)
}

func (s *SQLiteStore) ListComponents(ctx context.Context) ([]*models.Component, error) {
	return s.queryComponents(ctx, "")
}

// ListDescendantUUIDs returns the uuids of every component below uuid, excluding uuid itself.
func (s *SQLiteStore) ListDescendantUUIDs(ctx context.Context, uuid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uuid FROM components WHERE instr(uuid_path, '.' || ? || '.') > 0 ORDER BY uuid", uuid)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan descendant: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Rules ---

func (s *SQLiteStore) CreateRule(ctx context.Context, r *models.Rule) error {
	if r.Status == "" {
		r.Status = "READY"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (kee, name, description, status, language) VALUES (?, ?, ?, ?, ?)`,
		r.Key, r.Name, r.Description, r.Status, r.Language,
	)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]*models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kee, name, description, status, language FROM rules ORDER BY kee")
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Rule
	for rows.Next() {
		r := &models.Rule{}
		if err := rows.Scan(&r.Key, &r.Name, &r.Description, &r.Status, &r.Language); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Users and groups ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (login, name, email, active) VALUES (?, ?, ?, ?)`,
		u.Login, u.Name, u.Email, boolToInt(u.Active),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUsersByLogins(ctx context.Context, logins []string) ([]*models.User, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	marks, args := placeholders(logins)
	rows, err := s.db.QueryContext(ctx,
		"SELECT login, name, email, active FROM users WHERE login IN ("+marks+") ORDER BY login", args...)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.User
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.Login, &u.Name, &u.Email, &u.Active); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddUserToGroup(ctx context.Context, login, group string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO groups_users (login, group_name) VALUES (?, ?)", login, group)
	if err != nil {
		return fmt.Errorf("add user to group: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListUserGroups(ctx context.Context, login string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT group_name FROM groups_users WHERE login = ? ORDER BY group_name", login)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- Grants ---

func (s *SQLiteStore) AddGrant(ctx context.Context, g models.Grant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO grants (subject_kind, subject, component_uuid, role) VALUES (?, ?, ?, ?)`,
		string(g.SubjectKind), g.Subject, g.ComponentUUID, string(g.Role),
	)
	if err != nil {
		return fmt.Errorf("add grant: %w", err)
	}
	return nil
}

// ListGrantsForSubjects returns the grants held by login or by any of groups.
func (s *SQLiteStore) ListGrantsForSubjects(ctx context.Context, login string, groups []string) ([]models.Grant, error) {
	conditions := []string{}
	var args []any
	if login != "" {
		conditions = append(conditions, "(subject_kind = 'user' AND subject = ?)")
		args = append(args, login)
	}
	if len(groups) > 0 {
		marks, groupArgs := placeholders(groups)
		conditions = append(conditions, "(subject_kind = 'group' AND subject IN ("+marks+"))")
		args = append(args, groupArgs...)
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT subject_kind, subject, component_uuid, role FROM grants WHERE "+strings.Join(conditions, " OR ")+" ORDER BY id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Grant
	for rows.Next() {
		var g models.Grant
		var kind, role string
		if err := rows.Scan(&kind, &g.Subject, &g.ComponentUUID, &role); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.SubjectKind = models.SubjectKind(kind)
		g.Role = models.Role(role)
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- Action plans ---

// SaveActionPlan inserts or replaces an action plan.
func (s *SQLiteStore) SaveActionPlan(ctx context.Context, p *models.ActionPlan) error {
	if p.Key == "" {
		p.Key = id.ULID()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Status == "" {
		p.Status = "OPEN"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO action_plans (kee, name, status, project_uuid, user_login, deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Key, p.Name, p.Status, p.ProjectUUID, p.UserLogin, p.Deadline, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save action plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteActionPlan(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM action_plans WHERE kee = ?", key)
	if err != nil {
		return fmt.Errorf("delete action plan: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("action plan %s: %w", key, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetActionPlansByKeys(ctx context.Context, keys []string) ([]*models.ActionPlan, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	marks, args := placeholders(keys)
	rows, err := s.db.QueryContext(ctx,
		`SELECT kee, name, status, project_uuid, user_login, deadline, created_at, updated_at
		FROM action_plans WHERE kee IN (`+marks+`) ORDER BY kee`, args...)
	if err != nil {
		return nil, fmt.Errorf("get action plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ActionPlan
	for rows.Next() {
		p := &models.ActionPlan{}
		var deadline sql.NullTime
		if err := rows.Scan(&p.Key, &p.Name, &p.Status, &p.ProjectUUID, &p.UserLogin, &deadline, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action plan: %w", err)
		}
		if deadline.Valid {
			p.Deadline = &deadline.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Issues ---

// CreateIssue inserts an issue. Key and timestamps are filled in when missing; the
// project is taken from the component when not set.
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.Key == "" {
		issue.Key = id.IssueKey()
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = issue.CreatedAt
	}
	if issue.Status == "" {
		issue.Status = models.StatusOpen
	}
	if issue.Severity == "" {
		issue.Severity = models.SeverityMajor
	}
	if issue.ProjectUUID == "" {
		comps, err := s.GetComponentsByUUIDs(ctx, []string{issue.ComponentUUID})
		if err != nil {
			return err
		}
		if len(comps) == 0 {
			return fmt.Errorf("component %s: %w", issue.ComponentUUID, ErrNotFound)
		}
		issue.ProjectUUID = comps[0].ProjectUUID
	}

	attrs := issue.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	var debt any
	if issue.Debt != nil {
		debt = *issue.Debt
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO issues (kee, rule_key, component_uuid, project_uuid, message, line, status, resolution, severity, debt,
			assignee, reporter, author_login, action_plan_key, attributes, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.Key, issue.RuleKey, issue.ComponentUUID, issue.ProjectUUID, issue.Message, issue.Line,
		issue.Status, nullString(issue.Resolution), string(issue.Severity), debt,
		nullString(issue.Assignee), nullString(issue.Reporter), nullString(issue.AuthorLogin), nullString(issue.ActionPlanKey),
		string(attrsJSON), issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddIssueChange(ctx context.Context, change *models.IssueChange) error {
	if change.Key == "" {
		change.Key = id.ULID()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	if change.Kind == "" {
		change.Kind = models.ChangeComment
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issue_changes (kee, issue_key, change_type, user_login, change_data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		change.Key, change.IssueKey, string(change.Kind), change.UserLogin, change.Data, change.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add issue change: %w", err)
	}
	return nil
}

// ListIssues returns every issue with its changelog, ordered by key.
func (s *SQLiteStore) ListIssues(ctx context.Context) ([]*models.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kee, rule_key, component_uuid, project_uuid, message, line, status, resolution, severity, debt,
			assignee, reporter, author_login, action_plan_key, attributes, created_at, updated_at, closed_at
		FROM issues ORDER BY kee`)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	byKey := make(map[string]*models.Issue)
	for rows.Next() {
		issue := &models.Issue{}
		var resolution, assignee, reporter, author, plan sql.NullString
		var debt sql.NullInt64
		var severity, attrs string
		var closedAt sql.NullTime

		if err := rows.Scan(&issue.Key, &issue.RuleKey, &issue.ComponentUUID, &issue.ProjectUUID, &issue.Message, &issue.Line,
			&issue.Status, &resolution, &severity, &debt, &assignee, &reporter, &author, &plan, &attrs,
			&issue.CreatedAt, &issue.UpdatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}

		issue.Severity = models.Severity(severity)
		issue.Resolution = stringPtr(resolution)
		issue.Assignee = stringPtr(assignee)
		issue.Reporter = stringPtr(reporter)
		issue.AuthorLogin = stringPtr(author)
		issue.ActionPlanKey = stringPtr(plan)
		if debt.Valid {
			d := debt.Int64
			issue.Debt = &d
		}
		if closedAt.Valid {
			issue.ClosedAt = &closedAt.Time
		}
		if err := json.Unmarshal([]byte(attrs), &issue.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", issue.Key, err)
		}

		issues = append(issues, issue)
		byKey[issue.Key] = issue
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	changes, err := s.db.QueryContext(ctx,
		`SELECT kee, issue_key, change_type, user_login, change_data, created_at FROM issue_changes ORDER BY created_at, kee`)
	if err != nil {
		return nil, fmt.Errorf("list issue changes: %w", err)
	}
	defer func() { _ = changes.Close() }()

	for changes.Next() {
		var c models.IssueChange
		var kind string
		if err := changes.Scan(&c.Key, &c.IssueKey, &kind, &c.UserLogin, &c.Data, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue change: %w", err)
		}
		c.Kind = models.ChangeKind(kind)
		if issue, ok := byKey[c.IssueKey]; ok {
			issue.Changes = append(issue.Changes, c)
		}
	}
	return issues, changes.Err()
}

var _ Store = (*SQLiteStore)(nil)
