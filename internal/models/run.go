package models

// RunStatus is the lifecycle state of one RPC-driven agent run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunInactive  RunStatus = "inactive"
	RunCancelled RunStatus = "cancelled"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
)

// TerminalStatuses is the subset of RunStatus values that end a run.
var TerminalStatuses = []RunStatus{RunCancelled, RunCompleted, RunFailed, RunTimedOut}

// IsTerminal reports whether s is one of TerminalStatuses.
func (s RunStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// RunState is the RPC transport's view of one run. Invariant: Terminal ==
// (Status != RunActive); once Terminal, only UpdatedMs may change.
type RunState struct {
	RunID          string    `json:"run_id"`
	Status         RunStatus `json:"status"`
	Terminal       bool      `json:"terminal"`
	TerminalState  RunStatus `json:"terminal_state,omitempty"`
	CreatedMs      int64     `json:"created_ms"`
	UpdatedMs      int64     `json:"updated_ms"`
}

// NewRunState builds the initial, non-terminal state for a freshly started run.
func NewRunState(runID string, nowMs int64) RunState {
	return RunState{
		RunID:     runID,
		Status:    RunActive,
		Terminal:  false,
		CreatedMs: nowMs,
		UpdatedMs: nowMs,
	}
}

// Transition returns a copy of s moved to status at nowMs. Once s is
// terminal, Transition is a no-op on Status/TerminalState (only UpdatedMs
// advances), matching the RunState invariant.
func (s RunState) Transition(status RunStatus, nowMs int64) RunState {
	if s.Terminal {
		s.UpdatedMs = nowMs
		return s
	}
	s.Status = status
	s.Terminal = status.IsTerminal()
	if s.Terminal {
		s.TerminalState = status
	}
	s.UpdatedMs = nowMs
	return s
}
