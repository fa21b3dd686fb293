package orchestrator

import "strings"

// State is one position in the per-turn pipeline. Turns only move forward
// through this machine; a repair round re-enters at GENERATED.
type State string

const (
	StateStart         State = "START"
	StateIntentParsed  State = "INTENT_PARSED"
	StateClarifyNeeded State = "CLARIFY_NEEDED"
	StateAwaitingUser  State = "AWAITING_USER"
	StateGenerated     State = "GENERATED"
	StateValidating    State = "VALIDATING"
	StateValid         State = "VALID"
	StateInvalid       State = "INVALID"
	StateCritiquing    State = "CRITIQUING"
	StateSandboxCheck  State = "SANDBOX_CHECK"
	StateExecuting     State = "EXECUTING"
	StateAnswering     State = "ANSWERING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// NormalizeState maps free-form input to a known state, defaulting to
// StateStart.
func NormalizeState(s string) State {
	switch State(strings.ToUpper(strings.TrimSpace(s))) {
	case StateIntentParsed:
		return StateIntentParsed
	case StateClarifyNeeded:
		return StateClarifyNeeded
	case StateAwaitingUser:
		return StateAwaitingUser
	case StateGenerated:
		return StateGenerated
	case StateValidating:
		return StateValidating
	case StateValid:
		return StateValid
	case StateInvalid:
		return StateInvalid
	case StateCritiquing:
		return StateCritiquing
	case StateSandboxCheck:
		return StateSandboxCheck
	case StateExecuting:
		return StateExecuting
	case StateAnswering:
		return StateAnswering
	case StateDone:
		return StateDone
	case StateFailed:
		return StateFailed
	default:
		return StateStart
	}
}

// IsTerminal reports whether a turn in this state accepts no further work.
// AWAITING_USER is not terminal: Resume picks the turn back up.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}
