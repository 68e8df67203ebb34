package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// SetTimeoutOverride upserts a timeout override for a principal, server or role.
func (db *DB) SetTimeoutOverride(o *TimeoutOverride) error {
	if !o.Scope.Valid() {
		return fmt.Errorf("invalid override scope %q", o.Scope)
	}
	if o.Seconds <= 0 {
		return fmt.Errorf("override seconds must be positive, got %d", o.Seconds)
	}

	_, err := db.Exec(`
		INSERT INTO timeout_overrides (scope, subject, seconds)
		VALUES (?, ?, ?)
		ON CONFLICT(scope, subject) DO UPDATE SET seconds = excluded.seconds
	`, string(o.Scope), o.Subject, o.Seconds)
	if err != nil {
		return fmt.Errorf("setting timeout override: %w", err)
	}
	return nil
}

// GetTimeoutOverride returns the override seconds for one scope/subject.
// The second return is false when no override exists.
func (db *DB) GetTimeoutOverride(scope OverrideScope, subject string) (int, bool, error) {
	var seconds int
	err := db.QueryRow(`
		SELECT seconds FROM timeout_overrides WHERE scope = ? AND subject = ?
	`, string(scope), subject).Scan(&seconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("getting timeout override: %w", err)
	}
	return seconds, true, nil
}

// ListTimeoutOverrides returns all persisted overrides.
func (db *DB) ListTimeoutOverrides() ([]*TimeoutOverride, error) {
	rows, err := db.Query(`
		SELECT scope, subject, seconds FROM timeout_overrides
		ORDER BY scope, subject
	`)
	if err != nil {
		return nil, fmt.Errorf("querying timeout overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*TimeoutOverride
	for rows.Next() {
		o := &TimeoutOverride{}
		var scope string
		if err := rows.Scan(&scope, &o.Subject, &o.Seconds); err != nil {
			return nil, fmt.Errorf("scanning timeout override: %w", err)
		}
		o.Scope = OverrideScope(scope)
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating timeout overrides: %w", err)
	}
	return overrides, nil
}

// DeleteTimeoutOverride removes an override. Missing rows are not an error.
func (db *DB) DeleteTimeoutOverride(scope OverrideScope, subject string) error {
	_, err := db.Exec(`
		DELETE FROM timeout_overrides WHERE scope = ? AND subject = ?
	`, string(scope), subject)
	if err != nil {
		return fmt.Errorf("deleting timeout override: %w", err)
	}
	return nil
}
