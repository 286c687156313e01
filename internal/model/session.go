// Package model holds the core data types shared across the gateway and
// agent process: sessions, messages, tool calls, path policies, and
// subagent bookkeeping. Nothing in this package talks to disk or the
// network; it is the vocabulary every other package imports.
package model

import "time"

// SessionKind distinguishes an orchestrator session from a spawned worker.
// Workers carry their parent id and task description; this is modeled as a
// tagged variant rather than a type hierarchy so the tool registry can be
// selected by kind at Init time without subclassing.
type SessionKind string

const (
	SessionMain   SessionKind = "main"
	SessionWorker SessionKind = "worker"
)

// SessionStatus reflects whether a session currently has a live turn.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionIdle      SessionStatus = "idle"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// ThinkingLevel mirrors the agent.thinking_level config key.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// Session is a conversation thread, identified by an opaque ID and a stable
// user-visible Key (default "main"). Exactly one session exists per key.
type Session struct {
	ID              string        `json:"id"`
	Key             string        `json:"key"`
	Kind            SessionKind   `json:"kind"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
	Task            string        `json:"task,omitempty"`
	Model           string        `json:"model"`
	ThinkingLevel   ThinkingLevel `json:"thinking_level,omitempty"`
	Status          SessionStatus `json:"status"`
	TokenInput      int64         `json:"token_input"`
	TokenOutput     int64         `json:"token_output"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsWorker reports whether this session was spawned by an orchestrator.
func (s *Session) IsWorker() bool {
	return s.Kind == SessionWorker
}
