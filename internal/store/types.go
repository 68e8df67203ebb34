package store

import (
	"database/sql"
	"strings"
	"time"

	"sqlgate/internal/analyzer"
)

// WhitelistEntry represents an approved statement. Entries are referenced by
// matching logic, never mutated; retiring an entry means deactivating it.
type WhitelistEntry struct {
	// ID is the unique entry identifier (UUID).
	ID string `json:"id"`
	// StatementText is the approved statement verbatim.
	StatementText string `json:"statement_text"`
	// Fingerprint is the normalized-text hash used for exact matching.
	Fingerprint string `json:"fingerprint"`
	// ServerRestrictions limits the entry to these servers (empty = all).
	ServerRestrictions []string `json:"server_restrictions,omitempty"`
	// RoleRestrictions limits the entry to these roles (empty = all).
	RoleRestrictions []string `json:"role_restrictions,omitempty"`
	// Active is false once the entry has been deactivated.
	Active bool `json:"active"`
	// AddedBy is who approved the statement (approver or "auto-approval").
	AddedBy string `json:"added_by"`
	// CreatedAt is when the entry was created.
	CreatedAt time.Time `json:"created_at"`
	// DeactivatedAt is when the entry was deactivated (nil if active).
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	// LastMatchedAt is when the entry last produced an exact hit.
	LastMatchedAt *time.Time `json:"last_matched_at,omitempty"`
}

// AppliesTo reports whether the entry covers the role/server pair.
// Empty restriction lists mean the entry applies everywhere.
func (e *WhitelistEntry) AppliesTo(role, server string) bool {
	return matchesRestriction(e.RoleRestrictions, role) &&
		matchesRestriction(e.ServerRestrictions, server)
}

func matchesRestriction(restrictions []string, value string) bool {
	if len(restrictions) == 0 {
		return true
	}
	for _, r := range restrictions {
		if strings.EqualFold(r, value) {
			return true
		}
	}
	return false
}

// PendingApproval represents a statement waiting on (or resolved by) an
// approval workflow.
type PendingApproval struct {
	// ID is the unique approval identifier (UUID).
	ID string `json:"id"`
	// Requester is the principal who submitted the statement.
	Requester string `json:"requester"`
	// Role is the requester's role at submission time.
	Role string `json:"role"`
	// StatementText is the submitted statement verbatim.
	StatementText string `json:"statement_text"`
	// Fingerprint is the normalized-text hash of the statement.
	Fingerprint string `json:"fingerprint"`
	// TargetServer is the server the statement was aimed at.
	TargetServer string `json:"target_server"`
	// Status is pending, approved or rejected.
	Status ApprovalStatus `json:"status"`
	// RiskLevel is the analyzer's classification.
	RiskLevel analyzer.RiskLevel `json:"risk_level"`
	// RiskReasons are the analyzer's flag explanations.
	RiskReasons []string `json:"risk_reasons,omitempty"`
	// CreatedAt is when the approval was created.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the approval reached a terminal state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// WorkflowInstance tracks one pending approval's progress through a workflow
// definition. One-to-one with a PendingApproval while unresolved.
type WorkflowInstance struct {
	// ID is the unique instance identifier (UUID).
	ID string `json:"id"`
	// DefinitionID references the workflow definition in use.
	DefinitionID string `json:"definition_id"`
	// PendingApprovalID references the approval being decided.
	PendingApprovalID string `json:"pending_approval_id"`
	// CurrentStepIndex is the index of the step awaiting a decision.
	CurrentStepIndex int `json:"current_step_index"`
	// Status is pending, in_progress, approved or rejected.
	Status InstanceStatus `json:"status"`
	// CreatedAt is when the instance was created.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the instance reached a terminal state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// StepRecord is one recorded step decision inside a workflow instance.
type StepRecord struct {
	// ID is the autoincrement row id.
	ID int64 `json:"id"`
	// InstanceID references the workflow instance.
	InstanceID string `json:"instance_id"`
	// StepIndex is the definition step this decision applies to.
	StepIndex int `json:"step_index"`
	// Approver is who decided the step.
	Approver string `json:"approver"`
	// Approved is the decision.
	Approved bool `json:"approved"`
	// Comment is the approver's optional note.
	Comment string `json:"comment,omitempty"`
	// DecidedAt is when the decision was recorded.
	DecidedAt time.Time `json:"decided_at"`
}

// HistoryRecord is one authorization decision, kept for audit and for
// similarity suggestions over past statements.
type HistoryRecord struct {
	ID            int64        `json:"id"`
	Principal     string       `json:"principal"`
	Role          string       `json:"role"`
	TargetServer  string       `json:"target_server"`
	StatementText string       `json:"statement_text"`
	Fingerprint   string       `json:"fingerprint"`
	Decision      DecisionKind `json:"decision"`
	Detail        string       `json:"detail,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// AuditEvent records a state change outside the decision path (whitelist
// edits, workflow advancement, timeout firings).
type AuditEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Principal string    `json:"principal,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeoutOverride is a persisted execution timeout for one principal, server
// or role, loaded into the coordinator at startup.
type TimeoutOverride struct {
	Scope   OverrideScope `json:"scope"`
	Subject string        `json:"subject"`
	Seconds int           `json:"seconds"`
}

// Helper functions shared by the CRUD files.

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return containsIgnoreCase(err.Error(), "UNIQUE constraint failed") ||
		containsIgnoreCase(err.Error(), "constraint failed")
}
