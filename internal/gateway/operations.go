package gateway

import (
	"errors"
	"fmt"
	"time"

	"sqlgate/internal/notify"
	"sqlgate/internal/similarity"
	"sqlgate/internal/store"
	"sqlgate/internal/timeout"
)

// ErrNoOpenInstance means the approval has no workflow instance to advance.
var ErrNoOpenInstance = errors.New("no open workflow instance for approval")

// AdvanceWorkflow records one approver decision on the approval's open
// workflow instance. It returns whether the workflow reached a terminal
// state and a human-readable progress message.
func (s *Service) AdvanceWorkflow(approvalID string, approved bool, approver, comment string) (bool, string, error) {
	inst, err := s.store.GetOpenInstanceForApproval(approvalID)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return false, "", fmt.Errorf("%w: %s", ErrNoOpenInstance, approvalID)
		}
		return false, "", err
	}

	done, msg, err := s.engine.Advance(inst.ID, approved, approver, comment)
	if err != nil {
		return false, "", err
	}

	s.audit("workflow_advanced", approver, approvalID, msg)
	if done {
		outcome := "approved"
		if !approved {
			outcome = "rejected"
		}
		if approval, getErr := s.store.GetPendingApproval(approvalID); getErr == nil {
			s.notifyEvent(notify.EventApprovalResolved, notify.Payload{
				SubjectID: approvalID,
				Statement: approval.StatementText,
				Principal: approval.Requester,
				Server:    approval.TargetServer,
				RiskLevel: string(approval.RiskLevel),
				Detail:    outcome,
			})
		}
	}
	return done, msg, nil
}

// PromoteApproval adds an approved statement to the whitelist.
func (s *Service) PromoteApproval(approvalID, addedBy string) (*store.WhitelistEntry, error) {
	entry, err := s.engine.Promote(approvalID, addedBy)
	if err != nil {
		return nil, err
	}
	s.audit("whitelist_promoted", addedBy, entry.ID, "from approval "+approvalID)
	return entry, nil
}

// RegisterExecution registers an external execution with the coordinator and
// returns its resolved timeout and handle.
func (s *Service) RegisterExecution(executionID, principal, role, server string) (time.Duration, *timeout.Handle, error) {
	return s.coord.Register(executionID, principal, role, server)
}

// UnregisterExecution marks an execution complete. False means it was
// unknown or had already timed out.
func (s *Service) UnregisterExecution(executionID string) bool {
	return s.coord.Unregister(executionID)
}

// ExtendExecution grants an active execution more time.
func (s *Service) ExtendExecution(executionID string, additional time.Duration) bool {
	return s.coord.Extend(executionID, additional)
}

// CancelExecution cooperatively cancels an active execution.
func (s *Service) CancelExecution(executionID string) bool {
	ok := s.coord.Cancel(executionID)
	if ok {
		s.audit("execution_cancelled", "", executionID, "")
	}
	return ok
}

// ListActiveExecutions snapshots the in-flight executions.
func (s *Service) ListActiveExecutions() []*timeout.Handle {
	return s.coord.ListActive()
}

// CompareStatements scores the similarity of two statements in [0,1] with
// its threshold label.
func (s *Service) CompareStatements(a, b string) (float64, similarity.MatchLabel) {
	score := similarity.Compare(a, b, s.level)
	return score, similarity.LabelFor(score)
}

// FindSimilarWhitelisted returns active whitelist entries similar to the
// statement, best first.
func (s *Service) FindSimilarWhitelisted(statement string, minScore float64) ([]similarity.Match, error) {
	entries, err := s.store.ListActiveWhitelist()
	if err != nil {
		return nil, err
	}
	candidates := make([]similarity.Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, similarity.Candidate{ID: e.ID, Text: e.StatementText})
	}
	return similarity.FindSimilar(statement, candidates, minScore, s.level), nil
}

// historySampleSize bounds how much history similarity queries scan.
const historySampleSize = 500

// FindSimilarHistorical returns recent historical statements similar to the
// statement, best first. Duplicate fingerprints collapse to their most
// recent occurrence.
func (s *Service) FindSimilarHistorical(statement string, minScore float64) ([]similarity.Match, error) {
	records, err := s.store.ListRecentStatements(historySampleSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(records))
	candidates := make([]similarity.Candidate, 0, len(records))
	for _, r := range records {
		if seen[r.Fingerprint] {
			continue
		}
		seen[r.Fingerprint] = true
		candidates = append(candidates, similarity.Candidate{
			ID:   fmt.Sprintf("history-%d", r.ID),
			Text: r.StatementText,
		})
	}
	return similarity.FindSimilar(statement, candidates, minScore, s.level), nil
}

// Suggestion proposes a whitelist entry for a statement that is not yet
// whitelisted, with the evidence that motivated it.
type Suggestion struct {
	// Entry is the proposed entry, not yet persisted.
	Entry *store.WhitelistEntry `json:"entry"`
	// WhitelistMatches are similar existing entries, best first.
	WhitelistMatches []similarity.Match `json:"whitelist_matches,omitempty"`
	// HistoryMatches are similar past statements, best first.
	HistoryMatches []similarity.Match `json:"history_matches,omitempty"`
}

// SuggestWhitelistEntry builds a whitelist proposal for the statement. The
// medium similarity boundary selects the supporting evidence.
func (s *Service) SuggestWhitelistEntry(statement, role, server string) (*Suggestion, error) {
	wlMatches, err := s.FindSimilarWhitelisted(statement, similarity.ThresholdMedium)
	if err != nil {
		return nil, err
	}
	histMatches, err := s.FindSimilarHistorical(statement, similarity.ThresholdMedium)
	if err != nil {
		return nil, err
	}

	entry := &store.WhitelistEntry{
		StatementText: statement,
		Fingerprint:   similarity.Fingerprint(statement, s.level),
	}
	if role != "" {
		entry.RoleRestrictions = []string{role}
	}
	if server != "" {
		entry.ServerRestrictions = []string{server}
	}

	return &Suggestion{
		Entry:            entry,
		WhitelistMatches: wlMatches,
		HistoryMatches:   histMatches,
	}, nil
}

// ConsumeTimeoutEvents forwards coordinator timeout events to the notifier
// and audit log until the event channel closes. Run it on its own goroutine.
func (s *Service) ConsumeTimeoutEvents() {
	for ev := range s.coord.Events() {
		s.audit("execution_timeout", ev.Principal, ev.ExecutionID,
			fmt.Sprintf("server %s, deadline %s", ev.Server, ev.Deadline.Format(time.RFC3339)))
		s.notifyEvent(notify.EventExecutionTimeout, notify.Payload{
			SubjectID: ev.ExecutionID,
			Principal: ev.Principal,
			Server:    ev.Server,
			Detail:    "execution deadline exceeded",
		})
	}
}
