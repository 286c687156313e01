package model

import "time"

// SubagentState is the lifecycle of a spawned worker session.
type SubagentState string

const (
	SubagentRunning          SubagentState = "Running"
	SubagentWaitingForAnswer SubagentState = "WaitingForAnswer"
	SubagentPaused           SubagentState = "Paused"
	SubagentCompleted        SubagentState = "Completed"
	SubagentFailed           SubagentState = "Failed"
	SubagentCancelled        SubagentState = "Cancelled"
)

// IsTerminal reports whether a state is final; the registry rejects further
// transitions out of a terminal state.
func (s SubagentState) IsTerminal() bool {
	switch s {
	case SubagentCompleted, SubagentFailed, SubagentCancelled:
		return true
	default:
		return false
	}
}

// SubagentInfo tracks a running or finished worker. The authoritative
// parent/child relation lives here (ParentSessionID); there are no
// in-memory back-pointers, only ids resolved on demand.
type SubagentInfo struct {
	SessionID       string        `json:"session_id"`
	ParentSessionID string        `json:"parent_session_id"`
	Label           string        `json:"label"`
	Task            string        `json:"task"`
	State           SubagentState `json:"state"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	Summary         string        `json:"summary,omitempty"`
	TokenInput      int64         `json:"token_in"`
	TokenOutput     int64         `json:"token_out"`
}

// PendingQuestion lives until an answer is routed back to the worker, or
// the worker is cancelled.
type PendingQuestion struct {
	QuestionID      string `json:"question_id"`
	WorkerSessionID string `json:"worker_session_id"`
	Question        string `json:"question"`
	Context         string `json:"context,omitempty"`
	Blocking        bool   `json:"blocking"`
}
