// Package store persists the pipeline's aggregates in SQLite through
// database/sql. Every query is tenant-scoped: the tenant id comes from the
// context principal, never from caller input, and a row owned by another
// tenant is indistinguishable from a missing row.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/orderflow-io/orderflow/pkg/tenant"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at path and applies the pragmas the
// pipeline needs. ":memory:" works for tests.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return db, nil
}

// tenantID extracts the scoping tenant from the context.
func tenantID(ctx context.Context) (string, error) {
	tid, err := tenant.ID(ctx)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return tid, nil
}
