package api

import "fmt"

// ExecutionState is a step in the per-execution state machine.
type ExecutionState string

const (
	StateReceived        ExecutionState = "received"
	StatePolicyChecked   ExecutionState = "policy_checked"
	StateRejected        ExecutionState = "rejected"
	StateRunning         ExecutionState = "running"
	StateCompleted       ExecutionState = "completed"
	StateTimedOut        ExecutionState = "timed_out"
	StateRetryingInstall ExecutionState = "retrying_install"
	StateFailed          ExecutionState = "failed"
)

// Terminal reports whether no transition leaves s.
func (s ExecutionState) Terminal() bool {
	switch s {
	case StateRejected, StateCompleted, StateTimedOut, StateFailed:
		return true
	}
	return false
}

var executionTransitions = map[ExecutionState][]ExecutionState{
	"":                   {StateReceived},
	StateReceived:        {StatePolicyChecked, StateFailed},
	StatePolicyChecked:   {StateRejected, StateRunning, StateTimedOut, StateFailed},
	StateRunning:         {StateCompleted, StateTimedOut, StateRetryingInstall, StateFailed},
	StateRetryingInstall: {StateRunning, StateFailed},
}

// ValidateTransition checks whether an execution state transition is valid.
// An empty "from" state represents a request not yet received. Terminal
// states (rejected, completed, timed_out, failed) allow no outgoing
// transitions.
func ValidateTransition(from, to ExecutionState) *APIError {
	for _, s := range executionTransitions[from] {
		if s == to {
			return nil
		}
	}
	return NewInvalidRequestError("state",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}
