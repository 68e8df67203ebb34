package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sqlgate/internal/policy"
)

// ErrDefinitionNotFound is returned when a workflow definition is not found.
var ErrDefinitionNotFound = errors.New("workflow definition not found")

// ErrInstanceNotFound is returned when a workflow instance is not found.
var ErrInstanceNotFound = errors.New("workflow instance not found")

// CreateWorkflowDefinition inserts a definition and its ordered steps.
// The definition's rule (if any) must already be validated.
func (db *DB) CreateWorkflowDefinition(def *policy.WorkflowDefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	rolesJSON, _ := json.Marshal(def.Roles)
	serversJSON, _ := json.Marshal(def.Servers)
	var ruleJSON sql.NullString
	if def.Rule != nil {
		raw, err := json.Marshal(def.Rule)
		if err != nil {
			return fmt.Errorf("marshaling workflow rule: %w", err)
		}
		ruleJSON = sql.NullString{String: string(raw), Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO workflow_definitions (
				id, name, priority, roles_json, servers_json, rule_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, def.ID, def.Name, def.Priority, string(rolesJSON), string(serversJSON), ruleJSON, now)
		if err != nil {
			return fmt.Errorf("creating workflow definition: %w", err)
		}

		for i, step := range def.Steps {
			_, err := tx.Exec(`
				INSERT INTO workflow_steps (
					definition_id, step_index, approver_type, approver_value, required
				) VALUES (?, ?, ?, ?, ?)
			`, def.ID, i, step.ApproverType, step.ApproverValue, boolToInt(step.Required))
			if err != nil {
				return fmt.Errorf("creating workflow step %d: %w", i, err)
			}
		}
		return nil
	})
}

// ReplaceWorkflowDefinition updates an existing definition in place,
// rewriting its steps, or creates it when the ID is new. Updating in place
// keeps instance references to the definition valid.
func (db *DB) ReplaceWorkflowDefinition(def *policy.WorkflowDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("replacing workflow definition: id is required")
	}

	rolesJSON, _ := json.Marshal(def.Roles)
	serversJSON, _ := json.Marshal(def.Servers)
	var ruleJSON sql.NullString
	if def.Rule != nil {
		raw, err := json.Marshal(def.Rule)
		if err != nil {
			return fmt.Errorf("marshaling workflow rule: %w", err)
		}
		ruleJSON = sql.NullString{String: string(raw), Valid: true}
	}

	created := false
	err := db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE workflow_definitions
			SET name = ?, priority = ?, roles_json = ?, servers_json = ?, rule_json = ?
			WHERE id = ?
		`, def.Name, def.Priority, string(rolesJSON), string(serversJSON), ruleJSON, def.ID)
		if err != nil {
			return fmt.Errorf("updating workflow definition: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking workflow definition update: %w", err)
		}
		if n == 0 {
			created = true
			return nil
		}

		if _, err := tx.Exec(`DELETE FROM workflow_steps WHERE definition_id = ?`, def.ID); err != nil {
			return fmt.Errorf("deleting workflow steps: %w", err)
		}
		for i, step := range def.Steps {
			_, err := tx.Exec(`
				INSERT INTO workflow_steps (
					definition_id, step_index, approver_type, approver_value, required
				) VALUES (?, ?, ?, ?, ?)
			`, def.ID, i, step.ApproverType, step.ApproverValue, boolToInt(step.Required))
			if err != nil {
				return fmt.Errorf("creating workflow step %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if created {
		return db.CreateWorkflowDefinition(def)
	}
	return nil
}

// GetWorkflowDefinition retrieves a definition with its steps by ID.
func (db *DB) GetWorkflowDefinition(id string) (*policy.WorkflowDefinition, error) {
	row := db.QueryRow(`
		SELECT id, name, priority, roles_json, servers_json, rule_json
		FROM workflow_definitions WHERE id = ?
	`, id)

	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("scanning workflow definition: %w", err)
	}

	if err := db.loadSteps(def); err != nil {
		return nil, err
	}
	return def, nil
}

// ListWorkflowDefinitions returns all definitions with their steps, highest
// priority first.
func (db *DB) ListWorkflowDefinitions() ([]*policy.WorkflowDefinition, error) {
	rows, err := db.Query(`
		SELECT id, name, priority, roles_json, servers_json, rule_json
		FROM workflow_definitions
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying workflow definitions: %w", err)
	}
	defer rows.Close()

	var defs []*policy.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow definition row: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflow definitions: %w", err)
	}

	for _, def := range defs {
		if err := db.loadSteps(def); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (db *DB) loadSteps(def *policy.WorkflowDefinition) error {
	rows, err := db.Query(`
		SELECT approver_type, approver_value, required
		FROM workflow_steps
		WHERE definition_id = ?
		ORDER BY step_index ASC
	`, def.ID)
	if err != nil {
		return fmt.Errorf("querying workflow steps: %w", err)
	}
	defer rows.Close()

	def.Steps = nil
	for rows.Next() {
		var step policy.Step
		var required int
		if err := rows.Scan(&step.ApproverType, &step.ApproverValue, &required); err != nil {
			return fmt.Errorf("scanning workflow step: %w", err)
		}
		step.Required = required == 1
		def.Steps = append(def.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating workflow steps: %w", err)
	}
	return nil
}

type definitionScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(s definitionScanner) (*policy.WorkflowDefinition, error) {
	def := &policy.WorkflowDefinition{}
	var rolesJSON, serversJSON, ruleJSON sql.NullString

	if err := s.Scan(&def.ID, &def.Name, &def.Priority, &rolesJSON, &serversJSON, &ruleJSON); err != nil {
		return nil, err
	}

	if rolesJSON.Valid && rolesJSON.String != "null" {
		json.Unmarshal([]byte(rolesJSON.String), &def.Roles)
	}
	if serversJSON.Valid && serversJSON.String != "null" {
		json.Unmarshal([]byte(serversJSON.String), &def.Servers)
	}
	if ruleJSON.Valid && ruleJSON.String != "" {
		rule := &policy.Rule{}
		if err := json.Unmarshal([]byte(ruleJSON.String), rule); err != nil {
			return nil, fmt.Errorf("unmarshaling workflow rule: %w", err)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("stored workflow rule: %w", err)
		}
		def.Rule = rule
	}
	return def, nil
}

// CreateWorkflowInstance inserts a workflow instance for a pending approval.
// A partial unique index keeps one unresolved instance per approval; hitting
// it means an instance already exists and the caller should reuse it.
func (db *DB) CreateWorkflowInstance(inst *WorkflowInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.Status == "" {
		inst.Status = InstancePending
	}
	inst.CreatedAt = time.Now().UTC()

	_, err := db.Exec(`
		INSERT INTO workflow_instances (
			id, definition_id, pending_approval_id, current_step_index, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		inst.ID, inst.DefinitionID, inst.PendingApprovalID,
		inst.CurrentStepIndex, string(inst.Status),
		inst.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := db.GetOpenInstanceForApproval(inst.PendingApprovalID)
			if getErr != nil {
				return fmt.Errorf("creating workflow instance: %w", err)
			}
			*inst = *existing
			return nil
		}
		return fmt.Errorf("creating workflow instance: %w", err)
	}
	return nil
}

// GetWorkflowInstance retrieves a workflow instance by ID.
func (db *DB) GetWorkflowInstance(id string) (*WorkflowInstance, error) {
	row := db.QueryRow(`
		SELECT id, definition_id, pending_approval_id, current_step_index, status, created_at, resolved_at
		FROM workflow_instances WHERE id = ?
	`, id)
	return scanInstance(row)
}

// GetOpenInstanceForApproval returns the unresolved instance for a pending
// approval, or ErrInstanceNotFound.
func (db *DB) GetOpenInstanceForApproval(pendingApprovalID string) (*WorkflowInstance, error) {
	row := db.QueryRow(`
		SELECT id, definition_id, pending_approval_id, current_step_index, status, created_at, resolved_at
		FROM workflow_instances
		WHERE pending_approval_id = ? AND status IN ('pending', 'in_progress')
	`, pendingApprovalID)
	return scanInstance(row)
}

// UpdateInstanceState advances an instance to a new step index and status.
// Optimistic: the row must still be in the expected status.
func (db *DB) UpdateInstanceState(id string, stepIndex int, status, expected InstanceStatus) error {
	var resolvedAt sql.NullString
	if status.IsTerminal() {
		resolvedAt = sql.NullString{String: time.Now().UTC().Format(time.RFC3339), Valid: true}
	}

	result, err := db.Exec(`
		UPDATE workflow_instances SET current_step_index = ?, status = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, stepIndex, string(status), resolvedAt, id, string(expected))
	if err != nil {
		return fmt.Errorf("updating workflow instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: concurrent update detected or instance not found", ErrInstanceNotFound)
	}
	return nil
}

// RecordStepDecision appends a step decision to an instance's record.
func (db *DB) RecordStepDecision(rec *StepRecord) error {
	rec.DecidedAt = time.Now().UTC()
	result, err := db.Exec(`
		INSERT INTO workflow_step_records (
			instance_id, step_index, approver, approved, comment, decided_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.InstanceID, rec.StepIndex, rec.Approver,
		boolToInt(rec.Approved), nullString(rec.Comment),
		rec.DecidedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording step decision: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListStepRecords returns an instance's step decisions in decision order.
func (db *DB) ListStepRecords(instanceID string) ([]*StepRecord, error) {
	rows, err := db.Query(`
		SELECT id, instance_id, step_index, approver, approved, comment, decided_at
		FROM workflow_step_records
		WHERE instance_id = ?
		ORDER BY id ASC
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("querying step records: %w", err)
	}
	defer rows.Close()

	var records []*StepRecord
	for rows.Next() {
		rec := &StepRecord{}
		var approved int
		var comment sql.NullString
		var decidedAt string
		if err := rows.Scan(&rec.ID, &rec.InstanceID, &rec.StepIndex, &rec.Approver, &approved, &comment, &decidedAt); err != nil {
			return nil, fmt.Errorf("scanning step record: %w", err)
		}
		rec.Approved = approved == 1
		rec.Comment = comment.String
		rec.DecidedAt, _ = time.Parse(time.RFC3339, decidedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating step records: %w", err)
	}
	return records, nil
}

func scanInstance(row *sql.Row) (*WorkflowInstance, error) {
	inst := &WorkflowInstance{}
	var status, createdAt string
	var resolvedAt sql.NullString

	err := row.Scan(&inst.ID, &inst.DefinitionID, &inst.PendingApprovalID,
		&inst.CurrentStepIndex, &status, &createdAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("scanning workflow instance: %w", err)
	}

	inst.Status = InstanceStatus(status)
	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inst.ResolvedAt = parseTimePtr(resolvedAt)
	return inst, nil
}
