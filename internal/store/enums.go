// Package store provides persistence types and operations for the gateway.
package store

// ApprovalStatus represents the current state of a pending approval.
type ApprovalStatus string

const (
	// ApprovalPending means the statement is waiting on a workflow decision.
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved means the workflow approved the statement.
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalRejected means the workflow rejected the statement.
	ApprovalRejected ApprovalStatus = "rejected"
)

// Valid returns true if the status is a valid approval status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status is a terminal state.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// InstanceStatus represents the current state of a workflow instance.
type InstanceStatus string

const (
	// InstancePending means no step has been decided yet.
	InstancePending InstanceStatus = "pending"
	// InstanceInProgress means at least one step has been approved.
	InstanceInProgress InstanceStatus = "in_progress"
	// InstanceApproved means all required steps approved.
	InstanceApproved InstanceStatus = "approved"
	// InstanceRejected means some step vetoed.
	InstanceRejected InstanceStatus = "rejected"
)

// Valid returns true if the status is a valid instance status.
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstancePending, InstanceInProgress, InstanceApproved, InstanceRejected:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status is a terminal state.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceApproved || s == InstanceRejected
}

// DecisionKind labels a statement history row with the authorization outcome.
type DecisionKind string

const (
	// DecisionExecute means the statement was cleared to run.
	DecisionExecute DecisionKind = "execute"
	// DecisionDeferred means the statement entered an approval workflow.
	DecisionDeferred DecisionKind = "deferred"
	// DecisionRejected means the statement was refused.
	DecisionRejected DecisionKind = "rejected"
)

// Valid returns true if the kind is a valid decision kind.
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionExecute, DecisionDeferred, DecisionRejected:
		return true
	default:
		return false
	}
}

// OverrideScope identifies what a timeout override applies to.
type OverrideScope string

const (
	// ScopePrincipal overrides the timeout for one principal.
	ScopePrincipal OverrideScope = "principal"
	// ScopeServer overrides the timeout for one target server.
	ScopeServer OverrideScope = "server"
	// ScopeRole overrides the timeout for one role.
	ScopeRole OverrideScope = "role"
)

// Valid returns true if the scope is a valid override scope.
func (s OverrideScope) Valid() bool {
	switch s {
	case ScopePrincipal, ScopeServer, ScopeRole:
		return true
	default:
		return false
	}
}
