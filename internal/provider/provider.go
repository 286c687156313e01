// Package provider defines the model-backend abstraction the AgentLoop
// drives, and its default Anthropic implementation. The interface and
// streaming-chunk shapes are grounded on the teacher's
// internal/agent.LLMProvider/CompletionRequest/CompletionChunk
// (internal/agent/provider_types.go), trimmed to what spec.md's AgentLoop
// actually needs: one streamed call per turn's first iteration, plain
// request/response afterward, and tool-use block accumulation.
package provider

import (
	"context"
	"encoding/json"

	"github.com/batchismo/core/internal/model"
)

// ToolSpec is what a provider needs to offer a tool to the model: its
// name, description, and JSON Schema. internal/tool's registry converts
// its Tool values to ToolSpec when building a CompletionRequest.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionRequest is one model call. Messages is the full conversation
// so far for this turn, including prior tool calls/results.
type CompletionRequest struct {
	Model                string
	System               string
	Messages             []model.CompletionMessage
	Tools                []ToolSpec
	MaxTokens            int
	Stream               bool
	ThinkingLevel        model.ThinkingLevel
	ThinkingBudgetTokens int
}

// CompletionChunk is one unit of a streamed or synthesized response.
// Exactly one of Text/ToolCall/Done/Error is meaningful per chunk, except
// Done, which also carries final token counts.
type CompletionChunk struct {
	Text          string
	Thinking      string
	ThinkingStart bool
	ThinkingEnd   bool
	ToolCall      *model.ToolCall
	Done          bool
	InputTokens   int
	OutputTokens  int
	Error         error
}

// Provider is the interface AgentLoop drives. Implementations must be safe
// for concurrent use and must close the returned channel after a terminal
// chunk (Done or Error).
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}
