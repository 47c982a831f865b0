package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joescharf/isq/internal/models"
)

//go:embed postgres/schema.sql
var postgresSchema string

// PostgresStore is a read-only Reader over a Postgres database that shares the SQLite schema.
// Writes happen upstream; isq only searches and reindexes from it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryComponents(ctx context.Context, where string, args ...any) ([]*models.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY kee"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

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

func (s *PostgresStore) GetComponentsByKeys(ctx context.Context, keys []string) ([]*models.Component, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return s.queryComponents(ctx, "kee = ANY($1)", keys)
}

func (s *PostgresStore) GetComponentsByUUIDs(ctx context.Context, uuids []string) ([]*models.Component, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	return s.queryComponents(ctx, "uuid = ANY($1)", uuids)
}

func (s *PostgresStore) ListComponents(ctx context.Context) ([]*models.Component, error) {
	return s.queryComponents(ctx, "")
}

func (s *PostgresStore) ListDescendantUUIDs(ctx context.Context, uuid string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT uuid FROM components WHERE strpos(uuid_path, '.' || $1::text || '.') > 0 ORDER BY uuid", uuid)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	uuids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan descendants: %w", err)
	}
	return uuids, nil
}

func (s *PostgresStore) ListGrantsForSubjects(ctx context.Context, login string, groups []string) ([]models.Grant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT subject_kind, subject, component_uuid, role FROM grants
		WHERE (subject_kind = 'user' AND $1 <> '' AND subject = $1)
		   OR (subject_kind = 'group' AND subject = ANY($2))
		ORDER BY id`, login, groups)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

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

func (s *PostgresStore) ListUserGroups(ctx context.Context, login string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT group_name FROM groups_users WHERE login = $1 ORDER BY group_name", login)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	groups, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan groups: %w", err)
	}
	return groups, nil
}

func (s *PostgresStore) GetUsersByLogins(ctx context.Context, logins []string) ([]*models.User, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT login, name, email, active FROM users WHERE login = ANY($1) ORDER BY login", logins)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

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

func (s *PostgresStore) GetActionPlansByKeys(ctx context.Context, keys []string) ([]*models.ActionPlan, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT kee, name, status, project_uuid, user_login, deadline, created_at, updated_at
		FROM action_plans WHERE kee = ANY($1) ORDER BY kee`, keys)
	if err != nil {
		return nil, fmt.Errorf("get action plans: %w", err)
	}
	defer rows.Close()

	var out []*models.ActionPlan
	for rows.Next() {
		p := &models.ActionPlan{}
		if err := rows.Scan(&p.Key, &p.Name, &p.Status, &p.ProjectUUID, &p.UserLogin, &p.Deadline, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action plan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]*models.Rule, error) {
	rows, err := s.pool.Query(ctx, "SELECT kee, name, description, status, language FROM rules ORDER BY kee")
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

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

func (s *PostgresStore) ListIssues(ctx context.Context) ([]*models.Issue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kee, rule_key, component_uuid, project_uuid, message, line, status, resolution, severity, debt,
			assignee, reporter, author_login, action_plan_key, attributes, created_at, updated_at, closed_at
		FROM issues ORDER BY kee`)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []*models.Issue
	byKey := make(map[string]*models.Issue)
	for rows.Next() {
		issue := &models.Issue{}
		var severity string
		var attrs []byte
		if err := rows.Scan(&issue.Key, &issue.RuleKey, &issue.ComponentUUID, &issue.ProjectUUID, &issue.Message, &issue.Line,
			&issue.Status, &issue.Resolution, &severity, &issue.Debt, &issue.Assignee, &issue.Reporter,
			&issue.AuthorLogin, &issue.ActionPlanKey, &attrs, &issue.CreatedAt, &issue.UpdatedAt, &issue.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issue.Severity = models.Severity(severity)
		if err := json.Unmarshal(attrs, &issue.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", issue.Key, err)
		}
		issues = append(issues, issue)
		byKey[issue.Key] = issue
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	changes, err := s.pool.Query(ctx,
		`SELECT kee, issue_key, change_type, user_login, change_data, created_at FROM issue_changes ORDER BY created_at, kee`)
	if err != nil {
		return nil, fmt.Errorf("list issue changes: %w", err)
	}
	defer changes.Close()

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

var _ Reader = (*PostgresStore)(nil)
