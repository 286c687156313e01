package model

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolCall is an LLM request to execute a tool, carried on an assistant
// Message. Input is kept as raw JSON until the registry validates it
// against the tool's declared schema.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall. IsError signals a
// tool-level failure that is reported back to the model, not a protocol
// failure.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message belongs to a session and is ordered by CreatedAt. Every
// ToolResult.ToolCallID must match exactly one preceding ToolCall.ID in the
// same message or a prior assistant message of the same turn.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	TokenInput  int          `json:"token_input,omitempty"`
	TokenOutput int          `json:"token_output,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ObservationKind enumerates the append-only behavioral metadata the core
// records for out-of-core consumers (memory consolidation). The core never
// reads these back.
type ObservationKind string

const (
	ObservationToolUse        ObservationKind = "tool_use"
	ObservationPathAccess     ObservationKind = "path_access"
	ObservationUserCorrection ObservationKind = "user_correction"
)

// Observation is an append-only record; the core writes it and never reads
// it back.
type Observation struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Kind      ObservationKind `json:"kind"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"created_at"`
}
