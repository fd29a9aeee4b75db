package research

// Status is the externally visible state of a task
type Status string

const (
	StatusAwaitingInput Status = "AWAITING_INPUT"
	StatusRunning       Status = "RUNNING"
	StatusComplete      Status = "COMPLETE"
	StatusFailed        Status = "FAILED"
)

// DeriveStatus computes a task's status from its state, suspend marker and
// recorded error. A recorded error wins, then suspension, then the final
// report.
func DeriveStatus(state *State, suspended bool, errMsg string) Status {
	switch {
	case errMsg != "":
		return StatusFailed
	case suspended:
		return StatusAwaitingInput
	case state != nil && state.FinalReport != "":
		return StatusComplete
	default:
		return StatusRunning
	}
}

// IsTerminal reports whether no further progress will be made
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}
