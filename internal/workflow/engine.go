package workflow

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"sqlgate/internal/policy"
	"sqlgate/internal/store"
)

// AutoApprover is the recorded approver name for similarity-driven approvals.
const AutoApprover = "auto-approval"

// Engine drives workflow instances through their steps and keeps the linked
// pending approval in sync.
type Engine struct {
	db     *store.DB
	logger *log.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(db *store.DB, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{db: db, logger: logger}
}

// EnsureInstance returns the unresolved instance for a pending approval,
// creating one if none exists. Creation is idempotent: a pre-existing
// instance is returned unchanged.
func (e *Engine) EnsureInstance(def *policy.WorkflowDefinition, approval *store.PendingApproval) (*store.WorkflowInstance, error) {
	existing, err := e.db.GetOpenInstanceForApproval(approval.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrInstanceNotFound) {
		return nil, err
	}

	inst := &store.WorkflowInstance{
		DefinitionID:      def.ID,
		PendingApprovalID: approval.ID,
		CurrentStepIndex:  firstRequiredStep(def.Steps, -1),
	}
	if inst.CurrentStepIndex < 0 {
		inst.CurrentStepIndex = 0
	}
	if err := e.db.CreateWorkflowInstance(inst); err != nil {
		return nil, fmt.Errorf("ensuring workflow instance: %w", err)
	}

	e.logger.Info("workflow instance created",
		"instance", inst.ID,
		"definition", def.Name,
		"approval", approval.ID)
	return inst, nil
}

// Advance records a decision on the instance's current step.
//
// A rejection vetoes the whole instance immediately: remaining steps are not
// evaluated and the linked approval is marked rejected. An approval moves the
// instance to the next required step, or to approved when none remain, in
// which case the linked approval is marked approved too. The bool result is
// true only when the instance reached a terminal state.
//
// Advancing a terminal instance fails with InvalidStateError and performs no
// mutation.
func (e *Engine) Advance(instanceID string, approved bool, approver, comment string) (bool, string, error) {
	inst, err := e.db.GetWorkflowInstance(instanceID)
	if err != nil {
		return false, "", err
	}
	if IsTerminal(inst.Status) {
		return false, "", &InvalidStateError{
			InstanceID: inst.ID,
			From:       inst.Status,
			Message:    "instance already resolved",
		}
	}

	def, err := e.db.GetWorkflowDefinition(inst.DefinitionID)
	if err != nil {
		return false, "", err
	}

	if !approved {
		if err := e.resolve(inst, store.InstanceRejected, store.ApprovalRejected); err != nil {
			return false, "", err
		}
		e.recordStep(inst, approved, approver, comment)
		e.logger.Info("workflow instance rejected",
			"instance", inst.ID,
			"step", inst.CurrentStepIndex,
			"approver", approver)
		return true, fmt.Sprintf("rejected at step %d by %s", inst.CurrentStepIndex, approver), nil
	}

	next := firstRequiredStep(def.Steps, inst.CurrentStepIndex)
	if next < 0 {
		if err := e.resolve(inst, store.InstanceApproved, store.ApprovalApproved); err != nil {
			return false, "", err
		}
		e.recordStep(inst, approved, approver, comment)
		e.logger.Info("workflow instance approved",
			"instance", inst.ID,
			"approver", approver)
		return true, "all required steps approved", nil
	}

	if err := e.db.UpdateInstanceState(inst.ID, next, store.InstanceInProgress, inst.Status); err != nil {
		return false, "", err
	}
	e.recordStep(inst, approved, approver, comment)
	e.logger.Info("workflow instance advanced",
		"instance", inst.ID,
		"from_step", inst.CurrentStepIndex,
		"to_step", next,
		"approver", approver)
	return false, fmt.Sprintf("advanced to step %d", next), nil
}

// AutoApprove resolves an instance as approved in one move, recording the
// decision under the auto-approval approver. Used when a similarity match at
// or above the auto-approval threshold obviates the human steps.
func (e *Engine) AutoApprove(instanceID, reason string) error {
	inst, err := e.db.GetWorkflowInstance(instanceID)
	if err != nil {
		return err
	}
	if IsTerminal(inst.Status) {
		return &InvalidStateError{
			InstanceID: inst.ID,
			From:       inst.Status,
			To:         store.InstanceApproved,
			Message:    "instance already resolved",
		}
	}

	if err := e.resolve(inst, store.InstanceApproved, store.ApprovalApproved); err != nil {
		return err
	}
	e.recordStep(inst, true, AutoApprover, reason)
	e.logger.Info("workflow instance auto-approved",
		"instance", inst.ID,
		"reason", reason)
	return nil
}

// Promote creates a whitelist entry from an approved pending approval,
// restricted to the approval's role and target server.
func (e *Engine) Promote(approvalID, addedBy string) (*store.WhitelistEntry, error) {
	approval, err := e.db.GetPendingApproval(approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != store.ApprovalApproved {
		return nil, fmt.Errorf("cannot promote approval %s in status %s", approvalID, approval.Status)
	}

	entry := &store.WhitelistEntry{
		StatementText:      approval.StatementText,
		Fingerprint:        approval.Fingerprint,
		ServerRestrictions: []string{approval.TargetServer},
		RoleRestrictions:   []string{approval.Role},
		AddedBy:            addedBy,
	}
	if err := e.db.CreateWhitelistEntry(entry); err != nil {
		return nil, err
	}

	e.logger.Info("approval promoted to whitelist",
		"approval", approvalID,
		"entry", entry.ID,
		"added_by", addedBy)
	return entry, nil
}

// resolve moves the instance and its linked approval to terminal states
// together. The instance transition is optimistic; the approval resolution
// tolerates an already-resolved approval so retries stay idempotent.
func (e *Engine) resolve(inst *store.WorkflowInstance, instStatus store.InstanceStatus, approvalStatus store.ApprovalStatus) error {
	if err := ValidateTransition(inst.ID, inst.Status, instStatus); err != nil {
		return err
	}
	if err := e.db.UpdateInstanceState(inst.ID, inst.CurrentStepIndex, instStatus, inst.Status); err != nil {
		return err
	}
	if err := e.db.ResolveApproval(inst.PendingApprovalID, approvalStatus); err != nil {
		if !errors.Is(err, store.ErrApprovalNotPending) {
			return err
		}
	}
	return nil
}

// recordStep persists the step decision. Record failures are logged, not
// propagated: the state transition already happened.
func (e *Engine) recordStep(inst *store.WorkflowInstance, approved bool, approver, comment string) {
	rec := &store.StepRecord{
		InstanceID: inst.ID,
		StepIndex:  inst.CurrentStepIndex,
		Approver:   approver,
		Approved:   approved,
		Comment:    comment,
	}
	if err := e.db.RecordStepDecision(rec); err != nil {
		e.logger.Warn("failed to record step decision",
			"instance", inst.ID,
			"error", err)
	}
}

// firstRequiredStep returns the index of the first required step after the
// given index, or -1 when none remain.
func firstRequiredStep(steps []policy.Step, after int) int {
	for i := after + 1; i < len(steps); i++ {
		if steps[i].Required {
			return i
		}
	}
	return -1
}
