package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrWhitelistNotFound is returned when a whitelist entry is not found.
var ErrWhitelistNotFound = errors.New("whitelist entry not found")

// CreateWhitelistEntry inserts a new whitelist entry.
// Generates a UUID and the created_at timestamp.
func (db *DB) CreateWhitelistEntry(e *WhitelistEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Active = true
	e.CreatedAt = time.Now().UTC()

	serversJSON, _ := json.Marshal(e.ServerRestrictions)
	rolesJSON, _ := json.Marshal(e.RoleRestrictions)

	_, err := db.Exec(`
		INSERT INTO whitelist_entries (
			id, statement_text, fingerprint,
			server_restrictions_json, role_restrictions_json,
			active, added_by, created_at
		) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`,
		e.ID, e.StatementText, e.Fingerprint,
		string(serversJSON), string(rolesJSON),
		e.AddedBy, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating whitelist entry: %w", err)
	}
	return nil
}

// GetWhitelistEntry retrieves a whitelist entry by ID.
func (db *DB) GetWhitelistEntry(id string) (*WhitelistEntry, error) {
	row := db.QueryRow(`
		SELECT id, statement_text, fingerprint,
			server_restrictions_json, role_restrictions_json,
			active, added_by, created_at, deactivated_at, last_matched_at
		FROM whitelist_entries WHERE id = ?
	`, id)
	return scanWhitelistEntry(row)
}

// FindWhitelistByFingerprint returns active entries with the given fingerprint.
// Role/server applicability is filtered by the caller via AppliesTo.
func (db *DB) FindWhitelistByFingerprint(fingerprint string) ([]*WhitelistEntry, error) {
	rows, err := db.Query(`
		SELECT id, statement_text, fingerprint,
			server_restrictions_json, role_restrictions_json,
			active, added_by, created_at, deactivated_at, last_matched_at
		FROM whitelist_entries
		WHERE fingerprint = ? AND active = 1
		ORDER BY created_at ASC
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist by fingerprint: %w", err)
	}
	defer rows.Close()
	return scanWhitelistEntries(rows)
}

// ListActiveWhitelist returns all active whitelist entries.
func (db *DB) ListActiveWhitelist() ([]*WhitelistEntry, error) {
	rows, err := db.Query(`
		SELECT id, statement_text, fingerprint,
			server_restrictions_json, role_restrictions_json,
			active, added_by, created_at, deactivated_at, last_matched_at
		FROM whitelist_entries
		WHERE active = 1
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying active whitelist: %w", err)
	}
	defer rows.Close()
	return scanWhitelistEntries(rows)
}

// ListAllWhitelist returns all whitelist entries, active and deactivated.
func (db *DB) ListAllWhitelist() ([]*WhitelistEntry, error) {
	rows, err := db.Query(`
		SELECT id, statement_text, fingerprint,
			server_restrictions_json, role_restrictions_json,
			active, added_by, created_at, deactivated_at, last_matched_at
		FROM whitelist_entries
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist: %w", err)
	}
	defer rows.Close()
	return scanWhitelistEntries(rows)
}

// DeactivateWhitelistEntry marks an entry inactive. Entries are never hard
// deleted so past decisions stay explainable.
func (db *DB) DeactivateWhitelistEntry(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := db.Exec(`
		UPDATE whitelist_entries SET active = 0, deactivated_at = ?
		WHERE id = ? AND active = 1
	`, now, id)
	if err != nil {
		return fmt.Errorf("deactivating whitelist entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrWhitelistNotFound
	}
	return nil
}

// TouchWhitelistEntry records that an entry just produced an exact hit.
func (db *DB) TouchWhitelistEntry(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(`
		UPDATE whitelist_entries SET last_matched_at = ? WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touching whitelist entry: %w", err)
	}
	return nil
}

type whitelistScanner interface {
	Scan(dest ...any) error
}

func scanOneWhitelistEntry(s whitelistScanner) (*WhitelistEntry, error) {
	e := &WhitelistEntry{}
	var (
		serversJSON, rolesJSON       sql.NullString
		active                       int
		createdAt                    string
		deactivatedAt, lastMatchedAt sql.NullString
	)

	err := s.Scan(
		&e.ID, &e.StatementText, &e.Fingerprint,
		&serversJSON, &rolesJSON,
		&active, &e.AddedBy, &createdAt, &deactivatedAt, &lastMatchedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Active = active == 1
	if serversJSON.Valid && serversJSON.String != "null" {
		json.Unmarshal([]byte(serversJSON.String), &e.ServerRestrictions)
	}
	if rolesJSON.Valid && rolesJSON.String != "null" {
		json.Unmarshal([]byte(rolesJSON.String), &e.RoleRestrictions)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.DeactivatedAt = parseTimePtr(deactivatedAt)
	e.LastMatchedAt = parseTimePtr(lastMatchedAt)

	return e, nil
}

func scanWhitelistEntry(row *sql.Row) (*WhitelistEntry, error) {
	e, err := scanOneWhitelistEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWhitelistNotFound
		}
		return nil, fmt.Errorf("scanning whitelist entry: %w", err)
	}
	return e, nil
}

func scanWhitelistEntries(rows *sql.Rows) ([]*WhitelistEntry, error) {
	var entries []*WhitelistEntry
	for rows.Next() {
		e, err := scanOneWhitelistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning whitelist row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating whitelist entries: %w", err)
	}
	return entries, nil
}
