package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// SchemaVersion is the schema version this build expects.
const SchemaVersion = 2

// Migration represents a single schema migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations is the ordered list of schema migrations.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
-- Whitelist: approved statements. Deactivated, never hard-deleted.
CREATE TABLE IF NOT EXISTS whitelist_entries (
  id TEXT PRIMARY KEY,
  statement_text TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  server_restrictions_json TEXT,
  role_restrictions_json TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  added_by TEXT NOT NULL,
  created_at TEXT NOT NULL,
  deactivated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_whitelist_fingerprint ON whitelist_entries(fingerprint);
CREATE INDEX IF NOT EXISTS idx_whitelist_active ON whitelist_entries(active);

-- Pending approvals: statements waiting on a workflow decision.
CREATE TABLE IF NOT EXISTS pending_approvals (
  id TEXT PRIMARY KEY,
  requester TEXT NOT NULL,
  role TEXT NOT NULL,
  statement_text TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  target_server TEXT NOT NULL,
  status TEXT NOT NULL,
  risk_level TEXT NOT NULL,
  risk_reasons_json TEXT,
  created_at TEXT NOT NULL,
  resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_approvals(status);
CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_approvals(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_unique_open
  ON pending_approvals(fingerprint, requester, target_server)
  WHERE status = 'pending';

-- Workflow definitions and their ordered steps.
CREATE TABLE IF NOT EXISTS workflow_definitions (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  roles_json TEXT,
  servers_json TEXT,
  rule_json TEXT,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_steps (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  definition_id TEXT NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
  step_index INTEGER NOT NULL,
  approver_type TEXT NOT NULL,
  approver_value TEXT NOT NULL,
  required INTEGER NOT NULL DEFAULT 1,
  UNIQUE(definition_id, step_index)
);

-- Workflow instances: at most one unresolved instance per pending approval.
CREATE TABLE IF NOT EXISTS workflow_instances (
  id TEXT PRIMARY KEY,
  definition_id TEXT NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
  pending_approval_id TEXT NOT NULL REFERENCES pending_approvals(id) ON DELETE CASCADE,
  current_step_index INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  resolved_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_open_approval
  ON workflow_instances(pending_approval_id)
  WHERE status IN ('pending', 'in_progress');

CREATE TABLE IF NOT EXISTS workflow_step_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  instance_id TEXT NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
  step_index INTEGER NOT NULL,
  approver TEXT NOT NULL,
  approved INTEGER NOT NULL,
  comment TEXT,
  decided_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_step_records_instance ON workflow_step_records(instance_id);

-- Every authorization decision, for audit and similarity suggestions.
CREATE TABLE IF NOT EXISTS statement_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  principal TEXT NOT NULL,
  role TEXT NOT NULL,
  target_server TEXT NOT NULL,
  statement_text TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  decision TEXT NOT NULL,
  detail TEXT,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_fingerprint ON statement_history(fingerprint);
CREATE INDEX IF NOT EXISTS idx_history_created ON statement_history(created_at);

-- Audit trail for state changes outside the decision path.
CREATE TABLE IF NOT EXISTS audit_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_type TEXT NOT NULL,
  principal TEXT,
  subject_id TEXT,
  detail TEXT,
  created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);

-- Timeout overrides consumed by the execution coordinator at startup.
CREATE TABLE IF NOT EXISTS timeout_overrides (
  scope TEXT NOT NULL,
  subject TEXT NOT NULL,
  seconds INTEGER NOT NULL,
  PRIMARY KEY(scope, subject)
);
`,
	},
	{
		Version: 2,
		Name:    "whitelist_last_matched_at",
		Up: `
-- Track when an entry last produced an exact hit.
ALTER TABLE whitelist_entries ADD COLUMN last_matched_at TEXT;
`,
	},
}

// ApplyMigrations applies any pending migrations in order.
func (db *DB) ApplyMigrations(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ensureMigrationsTable(db.conn); err != nil {
		return err
	}

	current, err := currentVersion(db.conn)
	if err != nil {
		return err
	}

	// Ensure migrations are sorted.
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		// Special-case migrations that need conditional DDL
		switch m.Version {
		case 2:
			if err := addColumnIfMissing(ctx, tx, "whitelist_entries", "last_matched_at", "TEXT"); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
			}
		default:
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func ensureMigrationsTable(conn *sql.DB) error {
	_, err := conn.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);`)
	return err
}

func currentVersion(conn *sql.DB) (int, error) {
	var v sql.NullInt64
	err := conn.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, colType string) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return fmt.Errorf("pragma table_info: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var colName, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &colName, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan pragma table_info: %w", err)
		}
		if colName == column {
			return nil // already exists
		}
	}
	if rows.Err() != nil {
		return fmt.Errorf("iterating table_info: %w", rows.Err())
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, colType))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
