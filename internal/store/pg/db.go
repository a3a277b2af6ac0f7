package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
)

// OpenDB opens a Postgres connection pool via the pgx database/sql driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execMapUpdate runs UPDATE <table> SET k=$n,... WHERE id=$last from an
// updates map. Keys are sorted so generated SQL is stable for logs and tests.
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
		query += fmt.Sprintf("%s = $%d", k, i+1)
		args = append(args, updates[k])
	}
	query += fmt.Sprintf(" WHERE id = $%d", len(keys)+1)
	args = append(args, id)

	_, err := db.ExecContext(ctx, query, args...)
	return err
}
