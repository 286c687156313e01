package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/batchismo/core/internal/model"
	"github.com/stretchr/testify/require"
)

func TestDispatchUnknownToolIsError(t *testing.T) {
	r := New(nil)
	res := r.Dispatch(context.Background(), &Context{}, model.ToolCall{ID: "call-1", Name: "does_not_exist"})
	require.True(t, res.IsError)
	require.Equal(t, "call-1", res.ToolCallID)
}

func TestDispatchDisabledToolRefusesExecution(t *testing.T) {
	r := New([]string{"fs_read"})
	r.Register(NewFSReadTool())

	res := r.Dispatch(context.Background(), &Context{}, model.ToolCall{ID: "call-1", Name: "fs_read", Input: json.RawMessage(`{"path":"/tmp/x"}`)})
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "disabled")
}

func TestDispatchRejectsInputFailingSchema(t *testing.T) {
	r := New(nil)
	r.Register(NewFSReadTool())

	res := r.Dispatch(context.Background(), &Context{}, model.ToolCall{ID: "call-1", Name: "fs_read", Input: json.RawMessage(`{}`)})
	require.True(t, res.IsError, "fs_read requires \"path\"")
}

func TestDispatchTruncatesOversizedOutput(t *testing.T) {
	r := New(nil)
	r.Register(&hugeOutputTool{})

	res := r.Dispatch(context.Background(), &Context{}, model.ToolCall{ID: "call-1", Name: "huge", Input: json.RawMessage(`{}`)})
	require.False(t, res.IsError)
	require.LessOrEqual(t, len(res.Content), MaxOutputBytes)
	require.True(t, strings.HasSuffix(res.Content, "[truncated]"))
}

func TestAsToolSpecsExcludesDisabledTools(t *testing.T) {
	r := New([]string{"fs_write"})
	r.Register(NewFSReadTool())
	r.Register(NewFSWriteTool())

	specs := r.AsToolSpecs()
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		names[s.Name] = true
	}
	require.True(t, names["fs_read"])
	require.False(t, names["fs_write"], "disabled tools must never appear in the model's tool list")
}

func TestWorkerRegistryHasNoSpawnWorkerTool(t *testing.T) {
	r := NewWorkerRegistry(nil)
	_, ok := r.Get("spawn_worker")
	require.False(t, ok, "workers cannot spawn further workers")
	_, ok = r.Get("ask_orchestrator")
	require.True(t, ok)
}

func TestOrchestratorRegistryHasSpawnWorkerTool(t *testing.T) {
	r := NewOrchestratorRegistry(nil)
	_, ok := r.Get("spawn_worker")
	require.True(t, ok)
}

// hugeOutputTool is a minimal Tool whose output exceeds MaxOutputBytes, to
// exercise Dispatch's truncation path without writing a multi-hundred-KiB
// literal into this file.
type hugeOutputTool struct{}

func (hugeOutputTool) Name() string        { return "huge" }
func (hugeOutputTool) Description() string { return "test-only oversized output" }
func (hugeOutputTool) Capabilities() []Capability { return nil }
func (hugeOutputTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (hugeOutputTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	return &model.ToolResult{Content: strings.Repeat("x", MaxOutputBytes+1024)}, nil
}
