package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sqlgate/internal/analyzer"
)

// ErrApprovalNotFound is returned when a pending approval is not found.
var ErrApprovalNotFound = errors.New("pending approval not found")

// ErrDuplicatePending is returned when an open approval already exists for the
// same fingerprint, requester and target server. A partial unique index
// enforces this, so concurrent racers coalesce on one row.
var ErrDuplicatePending = errors.New("duplicate pending approval")

// ErrApprovalNotPending is returned when resolving an approval that already
// reached a terminal state.
var ErrApprovalNotPending = errors.New("approval is not pending")

// CreatePendingApproval inserts a new pending approval.
// Generates a UUID and the created_at timestamp.
func (db *DB) CreatePendingApproval(a *PendingApproval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = ApprovalPending
	}
	a.CreatedAt = time.Now().UTC()

	reasonsJSON, _ := json.Marshal(a.RiskReasons)

	_, err := db.Exec(`
		INSERT INTO pending_approvals (
			id, requester, role, statement_text, fingerprint, target_server,
			status, risk_level, risk_reasons_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Requester, a.Role, a.StatementText, a.Fingerprint, a.TargetServer,
		string(a.Status), string(a.RiskLevel), string(reasonsJSON),
		a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePending
		}
		return fmt.Errorf("creating pending approval: %w", err)
	}
	return nil
}

// GetPendingApproval retrieves a pending approval by ID.
func (db *DB) GetPendingApproval(id string) (*PendingApproval, error) {
	row := db.QueryRow(`
		SELECT id, requester, role, statement_text, fingerprint, target_server,
			status, risk_level, risk_reasons_json, created_at, resolved_at
		FROM pending_approvals WHERE id = ?
	`, id)
	return scanApproval(row)
}

// FindOpenApproval returns the open approval for a fingerprint/requester/server
// triple, or ErrApprovalNotFound.
func (db *DB) FindOpenApproval(fingerprint, requester, targetServer string) (*PendingApproval, error) {
	row := db.QueryRow(`
		SELECT id, requester, role, statement_text, fingerprint, target_server,
			status, risk_level, risk_reasons_json, created_at, resolved_at
		FROM pending_approvals
		WHERE fingerprint = ? AND requester = ? AND target_server = ? AND status = ?
	`, fingerprint, requester, targetServer, string(ApprovalPending))
	return scanApproval(row)
}

// ListApprovalsByStatus returns approvals with a given status, newest first.
func (db *DB) ListApprovalsByStatus(status ApprovalStatus) ([]*PendingApproval, error) {
	rows, err := db.Query(`
		SELECT id, requester, role, statement_text, fingerprint, target_server,
			status, risk_level, risk_reasons_json, created_at, resolved_at
		FROM pending_approvals WHERE status = ?
		ORDER BY created_at DESC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("querying approvals by status: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// ListOpenApprovals returns all approvals still waiting on a decision.
func (db *DB) ListOpenApprovals() ([]*PendingApproval, error) {
	return db.ListApprovalsByStatus(ApprovalPending)
}

// ResolveApproval moves a pending approval to a terminal status.
// Optimistic: the row must still be pending, otherwise ErrApprovalNotPending.
func (db *DB) ResolveApproval(id string, status ApprovalStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrApprovalNotPending, status)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := db.Exec(`
		UPDATE pending_approvals SET status = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(status), now, id, string(ApprovalPending))
	if err != nil {
		return fmt.Errorf("resolving approval: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := db.GetPendingApproval(id); err != nil {
			return err
		}
		return ErrApprovalNotPending
	}
	return nil
}

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanOneApproval(s approvalScanner) (*PendingApproval, error) {
	a := &PendingApproval{}
	var (
		status, riskLevel string
		reasonsJSON       sql.NullString
		createdAt         string
		resolvedAt        sql.NullString
	)

	err := s.Scan(
		&a.ID, &a.Requester, &a.Role, &a.StatementText, &a.Fingerprint, &a.TargetServer,
		&status, &riskLevel, &reasonsJSON, &createdAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = ApprovalStatus(status)
	a.RiskLevel = analyzer.RiskLevel(riskLevel)
	if reasonsJSON.Valid && reasonsJSON.String != "null" {
		json.Unmarshal([]byte(reasonsJSON.String), &a.RiskReasons)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.ResolvedAt = parseTimePtr(resolvedAt)

	return a, nil
}

func scanApproval(row *sql.Row) (*PendingApproval, error) {
	a, err := scanOneApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("scanning approval: %w", err)
	}
	return a, nil
}

func scanApprovals(rows *sql.Rows) ([]*PendingApproval, error) {
	var approvals []*PendingApproval
	for rows.Next() {
		a, err := scanOneApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning approval row: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating approvals: %w", err)
	}
	return approvals, nil
}
