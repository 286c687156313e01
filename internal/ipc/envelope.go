// Package ipc implements the length-delimited JSON framing and the
// exhaustive envelope set exchanged between the gateway and a per-turn
// agent process (spec.md §4.3), grounded on the teacher's vsock
// correlated-request/response pattern
// (internal/tools/sandbox/firecracker/vsock.go) but generalized from a
// single execute/health RPC schema to the full Init/UserMessage/Answer/...
// envelope family.
package ipc

import (
	"encoding/json"

	"github.com/batchismo/core/internal/model"
)

// Kind is the envelope's discriminator tag. Unknown kinds terminate the
// session with ProtocolError (spec.md §6).
type Kind string

const (
	// Gateway -> Agent
	KindInit        Kind = "Init"
	KindUserMessage Kind = "UserMessage"
	KindAnswer      Kind = "Answer"
	KindInstruction Kind = "Instruction"
	KindPause       Kind = "Pause"
	KindResume      Kind = "Resume"
	KindCancel      Kind = "Cancel"

	// Agent -> Gateway
	KindTextDelta      Kind = "TextDelta"
	KindToolCallStart  Kind = "ToolCallStart"
	KindToolCallResult Kind = "ToolCallResult"
	KindQuestion       Kind = "Question"
	KindProgress       Kind = "Progress"
	KindTurnComplete   Kind = "TurnComplete"
	KindError          Kind = "Error"

	// Bridge request/response, correlated over the same link (§4.9).
	KindBridgeRequest  Kind = "BridgeRequest"
	KindBridgeResponse Kind = "BridgeResponse"
)

// Envelope is the single wire type for every frame. Only the fields
// relevant to Kind are populated; unknown JSON fields are ignored per
// spec.md §6.
type Envelope struct {
	Kind Kind `json:"kind"`

	// Init
	SessionID       string              `json:"session_id,omitempty"`
	SessionKind     model.SessionKind   `json:"session_kind,omitempty"`
	Model           string              `json:"model,omitempty"`
	ThinkingLevel   model.ThinkingLevel `json:"thinking_level,omitempty"`
	SystemPrompt    string              `json:"system_prompt,omitempty"`
	History         []model.Message     `json:"history,omitempty"`
	PathPolicies    []model.PolicyRule  `json:"path_policies,omitempty"`
	DisabledTools   []string            `json:"disabled_tools,omitempty"`
	ParentSessionID string              `json:"parent_session_id,omitempty"`
	Task            string              `json:"task,omitempty"`

	// UserMessage / TextDelta / Progress content
	Content string `json:"content,omitempty"`

	// Answer
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`

	// Instruction
	InstructionID string `json:"instruction_id,omitempty"`

	// Cancel
	Reason string `json:"reason,omitempty"`

	// ToolCallStart / ToolCallResult
	ToolCall   *model.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *model.ToolResult `json:"result,omitempty"`

	// Question
	Question string `json:"question,omitempty"`
	Context  string `json:"context,omitempty"`
	Blocking bool   `json:"blocking,omitempty"`

	// Progress
	Summary string `json:"summary,omitempty"`
	Percent *int   `json:"percent,omitempty"`

	// TurnComplete
	Message     *model.Message `json:"message,omitempty"`
	TokenInput  int            `json:"token_input,omitempty"`
	TokenOutput int            `json:"token_output,omitempty"`

	// Error
	ErrorMessage string `json:"error_message,omitempty"`

	// Bridge correlation
	CorrelationID string          `json:"correlation_id,omitempty"`
	BridgeOp      string          `json:"bridge_op,omitempty"`
	BridgePayload json.RawMessage `json:"bridge_payload,omitempty"`
	BridgeError   string          `json:"bridge_error,omitempty"`
}
