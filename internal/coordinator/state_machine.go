package coordinator

import (
	"fmt"
)

// ExecutionState represents an execution state in the state machine.
type ExecutionState string

const (
	StatePending   ExecutionState = "pending"
	StateRunning   ExecutionState = "running"
	StateCompleted ExecutionState = "completed"
	StateFailed    ExecutionState = "failed"
	StateCancelled ExecutionState = "cancelled"
)

// ValidateTransition checks if a state transition is valid.
// Returns an error if the transition is not allowed.
//
// All transitions are one-directional; no execution re-enters pending or
// running after leaving it.
func ValidateTransition(from, to ExecutionState) error {
	if IsTerminalState(from) {
		return fmt.Errorf("no transitions out of terminal state %s", from)
	}

	validTransitions := map[ExecutionState][]ExecutionState{
		StatePending: {
			StateRunning,   // Worker slot acquired, dispatch started
			StateFailed,    // Dispatch exhausted retries or config invalid
			StateCancelled, // Cancelled before a worker picked it up
		},
		StateRunning: {
			StateCompleted, // Worker reported success
			StateFailed,    // Worker reported failure
			StateCancelled, // Manual cancellation mid-run
		},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %s to %s", from, to)
}

// IsTerminalState checks if a state is terminal (no further transitions).
func IsTerminalState(state ExecutionState) bool {
	return state == StateCompleted || state == StateFailed || state == StateCancelled
}

// IsActiveState checks if an execution holds the per-job exclusivity claim.
func IsActiveState(state ExecutionState) bool {
	return state == StatePending || state == StateRunning
}

// CanCancel checks if an execution can be cancelled from its current state.
func CanCancel(state ExecutionState) bool {
	return state == StatePending || state == StateRunning
}
