// Package databasetest opens throwaway SQLite databases with the production
// schema applied, for use by other packages' tests.
package databasetest

import (
	"path/filepath"
	"testing"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/database"
	_ "github.com/nerrad567/thermostat-core/migrations" // registers the embedded schema
)

// Open returns a migrated database in t's temp dir, closed on cleanup.
// A temp file is used rather than :memory: so WAL mode behaves as in production.
func Open(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "store.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}
