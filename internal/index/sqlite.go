package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/isq/internal/store"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS issue_docs (
	key TEXT PRIMARY KEY,
	rule TEXT NOT NULL,
	language TEXT,
	component_uuid TEXT NOT NULL,
	project_uuid TEXT NOT NULL,
	status TEXT NOT NULL,
	resolution TEXT,
	severity TEXT NOT NULL,
	severity_value INTEGER NOT NULL,
	assignee TEXT,
	reporter TEXT,
	author TEXT,
	action_plan TEXT,
	file_path TEXT,
	line INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	closed_at INTEGER,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issue_docs_component ON issue_docs(component_uuid);
CREATE INDEX IF NOT EXISTS idx_issue_docs_project ON issue_docs(project_uuid);`

// sqliteColumns whitelists the fields that map to issue_docs columns.
var sqliteColumns = map[Field]string{
	FieldKey:           "key",
	FieldRule:          "rule",
	FieldLanguage:      "language",
	FieldComponentUUID: "component_uuid",
	FieldProjectUUID:   "project_uuid",
	FieldStatus:        "status",
	FieldResolution:    "resolution",
	FieldSeverity:      "severity",
	FieldSeverityValue: "severity_value",
	FieldAssignee:      "assignee",
	FieldReporter:      "reporter",
	FieldAuthor:        "author",
	FieldActionPlan:    "action_plan",
	FieldFilePath:      "file_path",
	FieldLine:          "line",
	FieldCreatedAt:     "created_at",
	FieldUpdatedAt:     "updated_at",
	FieldClosedAt:      "closed_at",
}

// SQLiteIndex is a Backend stored in its own SQLite file.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index database at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Replace deletes every document and inserts docs in one transaction.
func (x *SQLiteIndex) Replace(ctx context.Context, docs []Document) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reindex: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM issue_docs"); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO issue_docs (key, rule, language, component_uuid, project_uuid, status,
		resolution, severity, severity_value, assignee, reporter, author, action_plan, file_path, line,
		created_at, updated_at, closed_at, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range docs {
		d := &docs[i]
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", d.Key, err)
		}
		_, err = stmt.ExecContext(ctx, d.Key, d.RuleKey, nullIfEmpty(d.Language), d.ComponentUUID, d.ProjectUUID, d.Status,
			nullIfEmpty(d.Resolution), d.Severity, d.SeverityValue(), nullIfEmpty(d.Assignee), nullIfEmpty(d.Reporter),
			nullIfEmpty(d.Author), nullIfEmpty(d.ActionPlan), nullIfEmpty(d.ComponentPath), d.Line,
			d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(), millis(d.ClosedAt), string(payload))
		if err != nil {
			return fmt.Errorf("index document %s: %w", d.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reindex: %w", err)
	}
	return nil
}

func column(f Field) (string, error) {
	col, ok := sqliteColumns[f]
	if !ok {
		return "", fmt.Errorf("unknown index field %q", f)
	}
	return col, nil
}

func compileFilter(f Filter) (string, []any, error) {
	switch f.Kind {
	case FilterNone:
		return "0", nil, nil
	case FilterOr:
		if len(f.Or) == 0 {
			return "0", nil, nil
		}
		var parts []string
		var args []any
		for _, sub := range f.Or {
			clause, subArgs, err := compileFilter(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, clause)
			args = append(args, subArgs...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	}

	col, err := column(f.Field)
	if err != nil {
		return "", nil, err
	}

	switch f.Kind {
	case FilterTerms:
		if len(f.Values) == 0 {
			return "0", nil, nil
		}
		marks := make([]string, len(f.Values))
		args := make([]any, len(f.Values))
		for i, v := range f.Values {
			marks[i] = "?"
			args[i] = v
		}
		return col + " IN (" + strings.Join(marks, ",") + ")", args, nil
	case FilterExists:
		return col + " IS NOT NULL", nil, nil
	case FilterMissing:
		return col + " IS NULL", nil, nil
	case FilterRange:
		var parts []string
		var args []any
		if f.From != nil {
			parts = append(parts, col+" >= ?")
			args = append(args, f.From.UnixMilli())
		}
		if f.To != nil {
			parts = append(parts, col+" < ?")
			args = append(args, f.To.UnixMilli())
		}
		if len(parts) == 0 {
			return "1", nil, nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", args, nil
	}
	return "", nil, fmt.Errorf("unsupported filter kind %d", f.Kind)
}

func compileWhere(filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	var parts []string
	var args []any
	for _, f := range filters {
		clause, fArgs, err := compileFilter(f)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, clause)
		args = append(args, fArgs...)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func compileOrder(sorts []Sort) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		col, err := column(s.Field)
		if err != nil {
			return "", err
		}
		dir := "DESC"
		if s.Asc {
			dir = "ASC"
		}
		parts = append(parts, col+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// Search runs q. Hits are loaded only when q.Limit > 0.
func (x *SQLiteIndex) Search(ctx context.Context, q Query) (*Result, error) {
	where, args, err := compileWhere(q.Filters)
	if err != nil {
		return nil, err
	}

	res := &Result{Aggregations: make(map[Field][]Bucket)}
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM issue_docs"+where, args...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	if q.Limit > 0 {
		order, err := compileOrder(q.Sorts)
		if err != nil {
			return nil, err
		}
		hitArgs := append(append([]any{}, args...), q.Limit, q.Offset)
		rows, err := x.db.QueryContext(ctx, "SELECT doc FROM issue_docs"+where+order+" LIMIT ? OFFSET ?", hitArgs...)
		if err != nil {
			return nil, fmt.Errorf("search documents: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return nil, fmt.Errorf("scan document: %w", err)
			}
			var doc Document
			if err := json.Unmarshal([]byte(payload), &doc); err != nil {
				return nil, fmt.Errorf("decode document: %w", err)
			}
			res.Hits = append(res.Hits, doc)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	for _, field := range q.Aggregations {
		buckets, err := x.aggregate(ctx, field, where, args, q.FacetSize)
		if err != nil {
			return nil, err
		}
		res.Aggregations[field] = buckets
	}
	return res, nil
}

func (x *SQLiteIndex) aggregate(ctx context.Context, field Field, where string, args []any, size int) ([]Bucket, error) {
	if !IsKeyword(field) {
		return nil, fmt.Errorf("cannot aggregate on %q", field)
	}
	col, err := column(field)
	if err != nil {
		return nil, err
	}

	query := "SELECT COALESCE(" + col + ", '') AS v, COUNT(*) AS c FROM issue_docs" + where + " GROUP BY v ORDER BY c DESC, v ASC"
	queryArgs := args
	if size > 0 {
		query += " LIMIT ?"
		queryArgs = append(append([]any{}, args...), size)
	}

	rows, err := x.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", field, err)
	}
	defer func() { _ = rows.Close() }()

	buckets := []Bucket{}
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Value, &b.Count); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

var _ Backend = (*SQLiteIndex)(nil)
