package dispatch

// State is a step of a single dispatch attempt
type State string

const (
	StateIdle                    State = "idle"
	StateValidatingPreconditions State = "validating_preconditions"
	StateAbortedNoConnection     State = "aborted_no_connection"
	StateAbortedIssues           State = "aborted_issues"
	StateNoOp                    State = "no_op"
	StateGuardAcquired           State = "guard_acquired"
	StatePlanning                State = "planning"
	StatePersistingIfNeeded      State = "persisting_if_needed"
	StateSubmitting              State = "submitting"
	StateFailed                  State = "failed"
	StateDispatched              State = "dispatched"
)

// IsTerminal reports whether an attempt ends in this state
func (s State) IsTerminal() bool {
	switch s {
	case StateAbortedNoConnection, StateAbortedIssues, StateNoOp, StateFailed, StateDispatched:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateIdle:                    {StateValidatingPreconditions},
	StateValidatingPreconditions: {StateAbortedNoConnection, StateNoOp, StateAbortedIssues, StateGuardAcquired, StateFailed},
	StateGuardAcquired:           {StatePlanning},
	StatePlanning:                {StatePersistingIfNeeded, StateFailed},
	StatePersistingIfNeeded:      {StateSubmitting, StateFailed},
	StateSubmitting:              {StateDispatched, StateFailed},
}

// canTransition reports whether next may follow s
func (s State) canTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
