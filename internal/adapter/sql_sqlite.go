package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteSQL is the USE_DB=1 SQL implementation, one database file per
// workspace under baseDir, grounded on internal/storage/sqlite's
// sql.Open("sqlite3", ...) + ncruces driver registration. The boundary
// itself stays schema-agnostic: callers create their own tables (activity
// issues CREATE TABLE IF NOT EXISTS before its first write per workspace).
type SQLiteSQL struct {
	baseDir string

	openFn func(path string) (*sql.DB, error)
	dbs    map[string]*sql.DB
}

// NewSQLiteSQL returns a SQLiteSQL rooted at baseDir (one file per
// workspace, "<workspaceID>.db").
func NewSQLiteSQL(baseDir string) *SQLiteSQL {
	return &SQLiteSQL{
		baseDir: baseDir,
		dbs:     make(map[string]*sql.DB),
		openFn: func(path string) (*sql.DB, error) {
			return sql.Open("sqlite3", path)
		},
	}
}

func (s *SQLiteSQL) dbFor(workspaceID string) (*sql.DB, error) {
	if db, ok := s.dbs[workspaceID]; ok {
		return db, nil
	}
	path := filepath.Join(s.baseDir, workspaceID+".db")
	db, err := s.openFn(path)
	if err != nil {
		return nil, fmt.Errorf("adapter: open sqlite db for workspace %s: %w", workspaceID, err)
	}
	s.dbs[workspaceID] = db
	return db, nil
}

func (s *SQLiteSQL) Execute(ctx context.Context, workspaceID, query string, args ...any) error {
	db, err := s.dbFor(workspaceID)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteSQL) FetchOne(ctx context.Context, workspaceID, query string, args ...any) (map[string]any, error) {
	rows, err := s.FetchAll(ctx, workspaceID, query, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *SQLiteSQL) FetchAll(ctx context.Context, workspaceID, query string, args ...any) ([]map[string]any, error) {
	db, err := s.dbFor(workspaceID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RunInTx delegates to database/sql's native transaction support: fn's
// failures roll back via tx.Rollback rather than an in-memory snapshot.
func (s *SQLiteSQL) RunInTx(ctx context.Context, workspaceID string, fn func(tx SQL) error) error {
	db, err := s.dbFor(workspaceID)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txSQL := &sqliteTx{tx: tx, workspaceID: workspaceID}
	if err := fn(txSQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close releases every open workspace database handle.
func (s *SQLiteSQL) Close() error {
	var firstErr error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sqliteTx adapts a single *sql.Tx to the SQL interface for the duration of
// a RunInTx call; it is never reused outside that scope.
type sqliteTx struct {
	tx          *sql.Tx
	workspaceID string
}

func (t *sqliteTx) Execute(ctx context.Context, _ string, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqliteTx) FetchOne(ctx context.Context, workspaceID, query string, args ...any) (map[string]any, error) {
	rows, err := t.FetchAll(ctx, workspaceID, query, args...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (t *sqliteTx) FetchAll(ctx context.Context, _ string, query string, args ...any) ([]map[string]any, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *sqliteTx) RunInTx(ctx context.Context, workspaceID string, fn func(tx SQL) error) error {
	return fn(t)
}
