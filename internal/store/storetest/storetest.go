// Package storetest opens migrated in-memory SQLite databases for repository tests.
package storetest

import (
	"context"
	"database/sql"
	"testing"

	"go.uber.org/zap"

	"rollcall/internal/store"
)

// NewDB returns a private, migrated in-memory database closed at test cleanup.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := store.NewDB(context.Background(), store.DriverSQLite, "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.RunMigrations(db.Client, store.DriverSQLite, zap.NewNop()); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db.Client
}
