// Package gateway sequences analysis, whitelist matching, policy evaluation,
// workflow instantiation and timeout bookkeeping into one authorization
// decision per incoming statement.
package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"sqlgate/internal/exec"
	"sqlgate/internal/notify"
	"sqlgate/internal/policy"
	"sqlgate/internal/similarity"
	"sqlgate/internal/store"
	"sqlgate/internal/timeout"
	"sqlgate/internal/workflow"
)

// Store is the persistence surface the gateway reads and writes. *store.DB
// satisfies it.
type Store interface {
	FindWhitelistByFingerprint(fingerprint string) ([]*store.WhitelistEntry, error)
	ListActiveWhitelist() ([]*store.WhitelistEntry, error)
	TouchWhitelistEntry(id string) error
	CreateWhitelistEntry(e *store.WhitelistEntry) error

	CreatePendingApproval(a *store.PendingApproval) error
	GetPendingApproval(id string) (*store.PendingApproval, error)
	FindOpenApproval(fingerprint, requester, targetServer string) (*store.PendingApproval, error)
	ListOpenApprovals() ([]*store.PendingApproval, error)
	ResolveApproval(id string, status store.ApprovalStatus) error

	ListWorkflowDefinitions() ([]*policy.WorkflowDefinition, error)
	GetWorkflowDefinition(id string) (*policy.WorkflowDefinition, error)
	GetOpenInstanceForApproval(pendingApprovalID string) (*store.WorkflowInstance, error)
	ListStepRecords(instanceID string) ([]*store.StepRecord, error)

	RecordStatement(rec *store.HistoryRecord) error
	ListRecentStatements(limit int) ([]*store.HistoryRecord, error)
	ListTimeoutOverrides() ([]*store.TimeoutOverride, error)
}

// Runner executes an approved statement against a named server. The context
// is the cancellation contract: implementations must stop work when it is
// cancelled. *exec.PgxRunner satisfies it.
type Runner interface {
	Run(ctx context.Context, statement, server string) (*exec.RowSet, error)
}

// Notifier receives fire-and-forget decision and timeout notifications.
// *notify.Manager satisfies it.
type Notifier interface {
	Notify(event notify.Event, payload notify.Payload)
}

// Auditor records one event per authorization decision and workflow
// transition. Failures are logged, never propagated. *store.DB satisfies it.
type Auditor interface {
	RecordAuditEvent(ev *store.AuditEvent) error
}

// Config assembles a Service from its collaborators.
type Config struct {
	Store       Store
	Runner      Runner
	Coordinator *timeout.Coordinator
	Engine      *workflow.Engine
	Notifier    Notifier
	Auditor     Auditor
	Logger      *log.Logger

	// Rules is the ordered policy rule list gating the deferral path.
	Rules []*policy.Rule
	// SelfApproveRoles are privileged roles that execute without approval.
	SelfApproveRoles []string
	// AutoApproveThreshold is the similarity score at or above which a
	// pending approval is auto-approved. Zero means the high boundary.
	AutoApproveThreshold float64
	// Level is the normalization level for fingerprints and comparisons.
	Level similarity.Level
}

// Service is the governance orchestrator.
type Service struct {
	store  Store
	runner Runner
	coord  *timeout.Coordinator
	engine *workflow.Engine

	notifier Notifier
	auditor  Auditor
	logger   *log.Logger

	level similarity.Level

	// mu guards the refreshable configuration below.
	mu          sync.RWMutex
	rules       []*policy.Rule
	selfApprove map[string]bool
	threshold   float64
}

// New creates a Service. Store, Runner, Coordinator and Engine are required;
// the rest default to no-ops or log.Default().
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	threshold := cfg.AutoApproveThreshold
	if threshold == 0 {
		threshold = similarity.ThresholdHigh
	}

	level := cfg.Level
	if level == "" {
		level = similarity.DefaultLevel
	}

	s := &Service{
		store:     cfg.Store,
		runner:    cfg.Runner,
		coord:     cfg.Coordinator,
		engine:    cfg.Engine,
		notifier:  cfg.Notifier,
		auditor:   cfg.Auditor,
		logger:    logger,
		level:     level,
		rules:     cfg.Rules,
		threshold: threshold,
	}
	s.setSelfApprove(cfg.SelfApproveRoles)
	return s
}

// SetRules replaces the policy rule list. Used by the config watcher.
func (s *Service) SetRules(rules []*policy.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

// SetSelfApproveRoles replaces the privileged role set.
func (s *Service) SetSelfApproveRoles(roles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSelfApproveLocked(roles)
}

func (s *Service) setSelfApprove(roles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSelfApproveLocked(roles)
}

func (s *Service) setSelfApproveLocked(roles []string) {
	m := make(map[string]bool, len(roles))
	for _, r := range roles {
		m[normalizeRole(r)] = true
	}
	s.selfApprove = m
}

func (s *Service) currentRules() []*policy.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

func (s *Service) autoThreshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

func (s *Service) isSelfApprove(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfApprove[normalizeRole(role)]
}

// Refresh reloads persisted timeout overrides into the coordinator. Callers
// invoke it at startup and whenever override rows change.
func (s *Service) Refresh() error {
	overrides, err := s.store.ListTimeoutOverrides()
	if err != nil {
		return err
	}
	for _, o := range overrides {
		d := secondsToDuration(o.Seconds)
		switch o.Scope {
		case store.ScopePrincipal:
			s.coord.SetPrincipalOverride(o.Subject, d)
		case store.ScopeServer:
			s.coord.SetServerOverride(o.Subject, d)
		case store.ScopeRole:
			s.coord.SetRoleOverride(o.Subject, d)
		}
	}
	s.logger.Debug("timeout overrides refreshed", "count", len(overrides))
	return nil
}

// audit records one audit event. Failures are logged and swallowed.
func (s *Service) audit(eventType, principal, subjectID, detail string) {
	if s.auditor == nil {
		return
	}
	ev := &store.AuditEvent{
		EventType: eventType,
		Principal: principal,
		SubjectID: subjectID,
		Detail:    detail,
	}
	if err := s.auditor.RecordAuditEvent(ev); err != nil {
		s.logger.Warn("audit event not recorded", "event", eventType, "error", err)
	}
}

// notifyEvent sends one notification if a notifier is configured.
func (s *Service) notifyEvent(event notify.Event, payload notify.Payload) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(event, payload)
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
