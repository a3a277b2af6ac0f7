package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

// OpenDB opens (creating if needed) the standalone SQLite database and
// applies the embedded schema.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, err
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under the worker pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execMapUpdate runs UPDATE <table> SET k=?,... WHERE id=? from an updates
// map. Keys are sorted for stable SQL.
func execMapUpdate(ctx context.Context, db execer, table string, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := "UPDATE " + table + " SET "
	args := make([]any, 0, len(updates)+1)
	for i, k := range keys {
		if i > 0 {
			query += ", "
		}
		query += k + " = ?"
		args = append(args, updates[k])
	}
	query += " WHERE id = ?"
	args = append(args, id)

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}
