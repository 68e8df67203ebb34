// Package testutil provides shared helpers for sqlgate tests: temporary
// migrated databases and harnesses for exercising context cancellation.
package testutil

import (
	"path/filepath"
	"testing"

	"sqlgate/internal/store"
)

// TempDB opens a fully migrated sqlite store in a test-scoped temporary
// directory. The database is closed automatically when the test ends.
func TempDB(t *testing.T) *store.DB {
	t.Helper()
	return TempDBAtPath(t, filepath.Join(t.TempDir(), "state.db"))
}

// TempDBAtPath opens a migrated store at the given path and registers
// cleanup with the test.
func TempDBAtPath(t *testing.T, path string) *store.DB {
	t.Helper()
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return db
}
