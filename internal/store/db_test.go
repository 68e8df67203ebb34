// Package store tests
package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndInitSchema(t *testing.T) {
	db := testDB(t)

	if err := db.ValidateSchema(); err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}

	version, err := db.GetSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, version)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.SchemaVersion != SchemaVersion {
		t.Errorf("stats schema version mismatch")
	}
	if stats.WhitelistCount != 0 || stats.PendingCount != 0 || stats.HistoryCount != 0 {
		t.Errorf("expected empty counts, got %+v", stats)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	db.Close()

	// Reopening must not re-run or fail migrations.
	db, err = Open(dbPath)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer db.Close()

	if err := db.ValidateSchema(); err != nil {
		t.Errorf("schema validation after reopen failed: %v", err)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := testDB(t)

	boom := errors.New("boom")
	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO audit_events (event_type, created_at) VALUES ('test', datetime('now'))`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}

	events, err := db.ListAuditEvents(10)
	if err != nil {
		t.Fatalf("listing audit events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected rollback to discard insert, found %d events", len(events))
	}
}
