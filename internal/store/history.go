package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordStatement appends one authorization decision to the history.
func (db *DB) RecordStatement(rec *HistoryRecord) error {
	rec.CreatedAt = time.Now().UTC()
	result, err := db.Exec(`
		INSERT INTO statement_history (
			principal, role, target_server, statement_text, fingerprint, decision, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Principal, rec.Role, rec.TargetServer,
		rec.StatementText, rec.Fingerprint,
		string(rec.Decision), nullString(rec.Detail),
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording statement: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListRecentStatements returns up to limit history rows, newest first.
func (db *DB) ListRecentStatements(limit int) ([]*HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, principal, role, target_server, statement_text, fingerprint, decision, detail, created_at
		FROM statement_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying statement history: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

// ListStatementsByPrincipal returns a principal's history rows, newest first.
func (db *DB) ListStatementsByPrincipal(principal string, limit int) ([]*HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, principal, role, target_server, statement_text, fingerprint, decision, detail, created_at
		FROM statement_history
		WHERE principal = ?
		ORDER BY id DESC
		LIMIT ?
	`, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("querying statement history by principal: %w", err)
	}
	defer rows.Close()
	return scanHistory(rows)
}

// PruneHistory deletes history rows older than the cutoff and returns the
// number removed. Run periodically by the serve loop.
func (db *DB) PruneHistory(before time.Time) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM statement_history WHERE created_at < ?
	`, before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning statement history: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected, nil
}

func scanHistory(rows *sql.Rows) ([]*HistoryRecord, error) {
	var records []*HistoryRecord
	for rows.Next() {
		rec := &HistoryRecord{}
		var decision, createdAt string
		var detail sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Principal, &rec.Role, &rec.TargetServer,
			&rec.StatementText, &rec.Fingerprint, &decision, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history record: %w", err)
		}
		rec.Decision = DecisionKind(decision)
		rec.Detail = detail.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history records: %w", err)
	}
	return records, nil
}

// RecordAuditEvent appends one audit event.
func (db *DB) RecordAuditEvent(ev *AuditEvent) error {
	ev.CreatedAt = time.Now().UTC()
	result, err := db.Exec(`
		INSERT INTO audit_events (event_type, principal, subject_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		ev.EventType, nullString(ev.Principal), nullString(ev.SubjectID),
		nullString(ev.Detail), ev.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListAuditEvents returns up to limit audit events, newest first.
func (db *DB) ListAuditEvents(limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, event_type, principal, subject_id, detail, created_at
		FROM audit_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		ev := &AuditEvent{}
		var principal, subjectID, detail sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.EventType, &principal, &subjectID, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		ev.Principal = principal.String
		ev.SubjectID = subjectID.String
		ev.Detail = detail.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}
