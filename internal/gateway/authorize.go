package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sqlgate/internal/analyzer"
	"sqlgate/internal/exec"
	"sqlgate/internal/notify"
	"sqlgate/internal/policy"
	"sqlgate/internal/similarity"
	"sqlgate/internal/store"
	"sqlgate/internal/workflow"
)

// RejectedAlreadyPending is the rejection reason for a statement whose
// identical pending approval already exists.
const RejectedAlreadyPending = "already pending"

// Decision is the outcome of one Authorize call.
type Decision struct {
	// Kind is execute, deferred or rejected.
	Kind store.DecisionKind `json:"kind"`
	// WhitelistID references the matched or promoted whitelist entry on an
	// execute decision. Empty when a privileged role executed directly.
	WhitelistID string `json:"whitelist_id,omitempty"`
	// PendingApprovalID references the open approval on a deferred decision.
	PendingApprovalID string `json:"pending_approval_id,omitempty"`
	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`
	// RiskLevel is the analyzer's classification of the statement.
	RiskLevel analyzer.RiskLevel `json:"risk_level"`
	// RiskReasons are the analyzer's flag explanations.
	RiskReasons []string `json:"risk_reasons,omitempty"`
	// Result holds the rows when the statement ran.
	Result *exec.RowSet `json:"result,omitempty"`
}

// Authorize runs the full governance pipeline for one statement.
//
// The statement is analyzed, matched against the whitelist by fingerprint,
// checked for an identical open approval, short-circuited for privileged
// roles, and otherwise gated by policy rules before a pending approval and
// workflow instance are created. A whitelist similarity match at or above
// the auto-approval threshold resolves the approval without a human.
// Every execute path brackets the run with timeout registration.
func (s *Service) Authorize(ctx context.Context, statement, principal, role, server string) (*Decision, error) {
	facts, risk, err := analyzer.Analyze(statement)
	if err != nil {
		return nil, fmt.Errorf("analyzing statement: %w", err)
	}

	fingerprint := similarity.Fingerprint(statement, s.level)

	// Exact whitelist hit restricted to this role/server executes at once.
	entries, err := s.store.FindWhitelistByFingerprint(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("whitelist lookup: %w", err)
	}
	for _, entry := range entries {
		if !entry.AppliesTo(role, server) {
			continue
		}
		return s.executeWhitelisted(ctx, entry, statement, principal, role, server, fingerprint, risk)
	}

	// An identical open approval for this principal/server is a conflict.
	if _, err := s.store.FindOpenApproval(fingerprint, principal, server); err == nil {
		return s.reject(principal, role, server, statement, fingerprint, risk, RejectedAlreadyPending), nil
	} else if !errors.Is(err, store.ErrApprovalNotFound) {
		return nil, fmt.Errorf("open approval lookup: %w", err)
	}

	// Privileged roles execute immediately and promote on success.
	if s.isSelfApprove(role) {
		return s.executeSelfApproved(ctx, statement, principal, role, server, fingerprint, risk)
	}

	// Policy rules gate the deferral path. A matching deny rejects with its
	// message verbatim; with rules configured, an allow must match.
	if rules := s.currentRules(); len(rules) > 0 {
		pctx := &policy.Context{Attributes: map[string]string{"principal": principal, "role": role, "server": server}}
		allowed, msg := policy.EvaluatePolicy(rules, statement, facts, pctx)
		if !allowed {
			s.audit("policy_denied", principal, "", msg)
			return s.reject(principal, role, server, statement, fingerprint, risk, msg), nil
		}
	}

	return s.deferToWorkflow(ctx, statement, principal, role, server, fingerprint, facts, risk)
}

// executeWhitelisted runs a statement cleared by an exact whitelist match.
func (s *Service) executeWhitelisted(ctx context.Context, entry *store.WhitelistEntry, statement, principal, role, server, fingerprint string, risk *analyzer.RiskAssessment) (*Decision, error) {
	if err := s.store.TouchWhitelistEntry(entry.ID); err != nil {
		s.logger.Warn("whitelist touch failed", "entry", entry.ID, "error", err)
	}

	result, err := s.runBracketed(ctx, statement, principal, role, server)
	if err != nil {
		return nil, err
	}

	dec := &Decision{
		Kind:        store.DecisionExecute,
		WhitelistID: entry.ID,
		RiskLevel:   risk.Level,
		RiskReasons: risk.Reasons,
		Result:      result,
	}
	s.recordDecision(principal, role, server, statement, fingerprint, store.DecisionExecute, "whitelist "+entry.ID)
	return dec, nil
}

// executeSelfApproved runs a statement for a privileged role and promotes it
// into the whitelist on success.
func (s *Service) executeSelfApproved(ctx context.Context, statement, principal, role, server, fingerprint string, risk *analyzer.RiskAssessment) (*Decision, error) {
	result, err := s.runBracketed(ctx, statement, principal, role, server)
	if err != nil {
		return nil, err
	}

	entry := &store.WhitelistEntry{
		StatementText:      statement,
		Fingerprint:        fingerprint,
		RoleRestrictions:   []string{role},
		ServerRestrictions: []string{server},
		AddedBy:            principal,
	}
	if err := s.store.CreateWhitelistEntry(entry); err != nil {
		s.logger.Warn("self-approve promotion failed", "principal", principal, "error", err)
		entry.ID = ""
	} else {
		s.audit("whitelist_promoted", principal, entry.ID, "self-approved by role "+role)
	}

	dec := &Decision{
		Kind:        store.DecisionExecute,
		WhitelistID: entry.ID,
		RiskLevel:   risk.Level,
		RiskReasons: risk.Reasons,
		Result:      result,
	}
	s.recordDecision(principal, role, server, statement, fingerprint, store.DecisionExecute, "self-approved by role "+role)
	return dec, nil
}

// deferToWorkflow creates the pending approval and its workflow instance, applying
// similarity auto-approval when a close whitelist match exists.
func (s *Service) deferToWorkflow(ctx context.Context, statement, principal, role, server, fingerprint string, facts *analyzer.StructuralFacts, risk *analyzer.RiskAssessment) (*Decision, error) {
	def := s.selectDefinition(statement, facts, principal, role, server)
	if def == nil {
		reason := "no approval workflow covers this request"
		s.audit("no_workflow", principal, "", reason)
		return s.reject(principal, role, server, statement, fingerprint, risk, reason), nil
	}

	approval := &store.PendingApproval{
		Requester:     principal,
		Role:          role,
		StatementText: statement,
		Fingerprint:   fingerprint,
		TargetServer:  server,
		RiskLevel:     risk.Level,
		RiskReasons:   risk.Reasons,
	}
	if err := s.store.CreatePendingApproval(approval); err != nil {
		if errors.Is(err, store.ErrDuplicatePending) {
			// Lost the race to a concurrent identical submission.
			return s.reject(principal, role, server, statement, fingerprint, risk, RejectedAlreadyPending), nil
		}
		// Failing to persist the decision fails the call.
		return nil, fmt.Errorf("creating pending approval: %w", err)
	}

	inst, err := s.engine.EnsureInstance(def, approval)
	if err != nil {
		return nil, fmt.Errorf("creating workflow instance: %w", err)
	}

	// A close-enough whitelist match approves without waiting for a human.
	if match, ok := s.bestWhitelistMatch(statement, role, server); ok {
		return s.autoApprove(ctx, inst, approval, match, statement, principal, role, server, fingerprint, risk)
	}

	s.notifyEvent(notify.EventApprovalPending, notify.Payload{
		SubjectID: approval.ID,
		Statement: statement,
		Principal: principal,
		Server:    server,
		RiskLevel: string(risk.Level),
	})
	s.audit("approval_pending", principal, approval.ID, "workflow "+def.ID)
	s.recordDecision(principal, role, server, statement, fingerprint, store.DecisionDeferred, "approval "+approval.ID)

	return &Decision{
		Kind:              store.DecisionDeferred,
		PendingApprovalID: approval.ID,
		RiskLevel:         risk.Level,
		RiskReasons:       risk.Reasons,
	}, nil
}

// autoApprove resolves a freshly created approval from a similarity match,
// promotes the statement and executes it.
func (s *Service) autoApprove(ctx context.Context, inst *store.WorkflowInstance, approval *store.PendingApproval, match similarity.Match, statement, principal, role, server, fingerprint string, risk *analyzer.RiskAssessment) (*Decision, error) {
	reason := fmt.Sprintf("similar to whitelist entry %s (score %.2f)", match.CandidateID, match.Score)
	if err := s.engine.AutoApprove(inst.ID, reason); err != nil {
		return nil, fmt.Errorf("auto-approving instance: %w", err)
	}
	s.audit("auto_approved", workflow.AutoApprover, approval.ID, reason)

	promoted, err := s.engine.Promote(approval.ID, workflow.AutoApprover)
	if err != nil {
		return nil, fmt.Errorf("promoting auto-approved statement: %w", err)
	}

	result, err := s.runBracketed(ctx, statement, principal, role, server)
	if err != nil {
		return nil, err
	}

	dec := &Decision{
		Kind:        store.DecisionExecute,
		WhitelistID: promoted.ID,
		RiskLevel:   risk.Level,
		RiskReasons: risk.Reasons,
		Result:      result,
	}
	s.recordDecision(principal, role, server, statement, fingerprint, store.DecisionExecute, reason)
	return dec, nil
}

// runBracketed wraps one statement run with timeout registration. The run
// context is cancelled by the caller, a fired timeout or a manual cancel,
// whichever happens first.
func (s *Service) runBracketed(ctx context.Context, statement, principal, role, server string) (*exec.RowSet, error) {
	executionID := uuid.New().String()

	_, handle, err := s.coord.Register(executionID, principal, role, server)
	if err != nil {
		return nil, fmt.Errorf("registering execution: %w", err)
	}
	defer s.coord.Unregister(executionID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(handle.Context(), cancel)
	defer stop()

	result, err := s.runner.Run(runCtx, statement, server)
	if err != nil {
		return nil, fmt.Errorf("executing on %s: %w", server, err)
	}
	return result, nil
}

// selectDefinition picks the applicable workflow definition: per-definition
// rules filter first, then priority and ID order decide.
func (s *Service) selectDefinition(statement string, facts *analyzer.StructuralFacts, principal, role, server string) *policy.WorkflowDefinition {
	defs, err := s.store.ListWorkflowDefinitions()
	if err != nil {
		s.logger.Error("workflow definition list failed", "error", err)
		return nil
	}

	pctx := &policy.Context{Attributes: map[string]string{"principal": principal, "role": role, "server": server}}
	applicable := make([]*policy.WorkflowDefinition, 0, len(defs))
	for _, def := range defs {
		if def.Rule != nil && !policy.EvaluateRule(def.Rule, statement, facts, pctx) {
			continue
		}
		applicable = append(applicable, def)
	}
	return policy.SelectWorkflow(applicable, role, server)
}

// bestWhitelistMatch finds the highest-scoring active whitelist entry
// applicable to the role/server at or above the auto-approval threshold.
func (s *Service) bestWhitelistMatch(statement, role, server string) (similarity.Match, bool) {
	entries, err := s.store.ListActiveWhitelist()
	if err != nil {
		s.logger.Warn("whitelist list failed, skipping auto-approval", "error", err)
		return similarity.Match{}, false
	}

	candidates := make([]similarity.Candidate, 0, len(entries))
	for _, e := range entries {
		if !e.AppliesTo(role, server) {
			continue
		}
		candidates = append(candidates, similarity.Candidate{ID: e.ID, Text: e.StatementText})
	}
	return similarity.Best(statement, candidates, s.autoThreshold(), s.level)
}

// reject builds a rejection decision and records it.
func (s *Service) reject(principal, role, server, statement, fingerprint string, risk *analyzer.RiskAssessment, reason string) *Decision {
	s.recordDecision(principal, role, server, statement, fingerprint, store.DecisionRejected, reason)
	return &Decision{
		Kind:        store.DecisionRejected,
		Reason:      reason,
		RiskLevel:   risk.Level,
		RiskReasons: risk.Reasons,
	}
}

// recordDecision appends one statement history row. Failures are logged,
// never propagated.
func (s *Service) recordDecision(principal, role, server, statement, fingerprint string, kind store.DecisionKind, detail string) {
	rec := &store.HistoryRecord{
		Principal:     principal,
		Role:          role,
		TargetServer:  server,
		StatementText: statement,
		Fingerprint:   fingerprint,
		Decision:      kind,
		Detail:        detail,
	}
	if err := s.store.RecordStatement(rec); err != nil {
		s.logger.Warn("statement history not recorded", "principal", principal, "error", err)
	}
}
