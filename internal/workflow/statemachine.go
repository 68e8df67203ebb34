// Package workflow implements the approval workflow state machine.
package workflow

import (
	"fmt"

	"sqlgate/internal/store"
)

// validTransitions defines all valid instance state transitions.
// Map key is the from state, value is a list of valid to states.
// in_progress -> in_progress covers moving between steps.
var validTransitions = map[store.InstanceStatus][]store.InstanceStatus{
	store.InstancePending: {
		store.InstanceInProgress,
		store.InstanceApproved,
		store.InstanceRejected,
	},
	store.InstanceInProgress: {
		store.InstanceInProgress,
		store.InstanceApproved,
		store.InstanceRejected,
	},
}

// TerminalStates are states from which no further transitions are allowed.
var TerminalStates = map[store.InstanceStatus]bool{
	store.InstanceApproved: true,
	store.InstanceRejected: true,
}

// InvalidStateError represents an operation on an instance whose state does
// not allow it.
type InvalidStateError struct {
	InstanceID string
	From       store.InstanceStatus
	To         store.InstanceStatus
	Message    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s on instance %s: %s", e.From, e.To, e.InstanceID, e.Message)
}

// CanTransition returns true if the transition from one state to another is valid.
func CanTransition(from, to store.InstanceStatus) bool {
	// Allow creation-time transition.
	if from == "" && to == store.InstancePending {
		return true
	}

	if TerminalStates[from] {
		return false
	}

	validTargets, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}

	return false
}

// ValidateTransition validates a state transition and returns an error if invalid.
func ValidateTransition(instanceID string, from, to store.InstanceStatus) error {
	if TerminalStates[from] {
		return &InvalidStateError{
			InstanceID: instanceID,
			From:       from,
			To:         to,
			Message:    fmt.Sprintf("%s is a terminal state", from),
		}
	}

	if !CanTransition(from, to) {
		return &InvalidStateError{
			InstanceID: instanceID,
			From:       from,
			To:         to,
			Message:    "transition not allowed",
		}
	}

	return nil
}

// IsTerminal returns true if the status is a terminal state.
func IsTerminal(status store.InstanceStatus) bool {
	return TerminalStates[status]
}
