package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/batchismo/core/internal/ipc"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/provider"
	"github.com/batchismo/core/internal/tool"
	"github.com/stretchr/testify/require"
)

// fakeProvider replays one CompletionChunk stream per call, in order, so a
// test can script exactly the tool-use/final-answer sequence it wants to
// exercise without a real model backend.
type fakeProvider struct {
	responses [][]*provider.CompletionChunk
	requests  []*provider.CompletionRequest
	call      int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (<-chan *provider.CompletionChunk, error) {
	f.requests = append(f.requests, req)
	chunks := f.responses[f.call]
	f.call++
	ch := make(chan *provider.CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// recordingEmitter captures every envelope sent, standing in for *ipc.Conn.
type recordingEmitter struct {
	envelopes []*ipc.Envelope
}

func (r *recordingEmitter) Send(env *ipc.Envelope) error {
	r.envelopes = append(r.envelopes, env)
	return nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Capabilities() []tool.Capability { return nil }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (echoTool) Execute(ctx context.Context, tc *tool.Context, params json.RawMessage) (*model.ToolResult, error) {
	return &model.ToolResult{Content: "echoed"}, nil
}

func TestRunReturnsFinalTextWithNoToolCalls(t *testing.T) {
	fp := &fakeProvider{responses: [][]*provider.CompletionChunk{
		{{Text: "hello"}, {Done: true, InputTokens: 10, OutputTokens: 5}},
	}}
	registry := tool.New(nil)
	loop := New(Config{Provider: fp, Registry: registry, Model: "fake-model"})
	emit := &recordingEmitter{}
	tc := &tool.Context{SessionID: "session-1"}

	result, err := loop.Run(context.Background(), tc, emit, make(chan *ipc.Envelope), nil)
	require.NoError(t, err)
	require.Equal(t, "hello", result.Message.Content)
	require.Equal(t, int64(10), result.TokenInput)
	require.Equal(t, int64(5), result.TokenOutput)
}

func TestRunExecutesToolCallThenContinues(t *testing.T) {
	callInput := json.RawMessage(`{}`)
	fp := &fakeProvider{responses: [][]*provider.CompletionChunk{
		{{ToolCall: &model.ToolCall{ID: "call-1", Name: "echo", Input: callInput}}, {Done: true}},
		{{Text: "done"}, {Done: true}},
	}}
	registry := tool.New(nil)
	registry.Register(echoTool{})
	loop := New(Config{Provider: fp, Registry: registry, Model: "fake-model"})
	emit := &recordingEmitter{}
	tc := &tool.Context{SessionID: "session-1"}

	result, err := loop.Run(context.Background(), tc, emit, make(chan *ipc.Envelope), nil)
	require.NoError(t, err)
	require.Equal(t, "done", result.Message.Content)

	var sawStart, sawResult bool
	for _, env := range emit.envelopes {
		if env.Kind == ipc.KindToolCallStart {
			sawStart = true
		}
		if env.Kind == ipc.KindToolCallResult {
			sawResult = true
			require.Equal(t, "echoed", env.ToolResult.Content)
		}
	}
	require.True(t, sawStart)
	require.True(t, sawResult)
}

func TestRunStopsOnCancelControlFrame(t *testing.T) {
	fp := &fakeProvider{responses: [][]*provider.CompletionChunk{
		{{Text: "partial"}, {Done: true}},
	}}
	registry := tool.New(nil)
	loop := New(Config{Provider: fp, Registry: registry, Model: "fake-model"})
	emit := &recordingEmitter{}
	tc := &tool.Context{SessionID: "session-1"}

	control := make(chan *ipc.Envelope, 1)
	control <- &ipc.Envelope{Kind: ipc.KindCancel, Reason: "user stopped"}

	_, err := loop.Run(context.Background(), tc, emit, control, nil)
	require.Error(t, err)
}

// TestRunInjectsAnswerAsToolResultContent exercises the non-blocking
// ask_orchestrator round trip end to end from the loop's perspective: a
// worker's question is answered asynchronously (an Answer control frame
// arrives with no corresponding in-flight tool call), and the loop must
// resume by carrying the answer into the next model call as tool-result
// content instead of silently dropping it.
func TestRunInjectsAnswerAsToolResultContent(t *testing.T) {
	fp := &fakeProvider{responses: [][]*provider.CompletionChunk{
		{{Text: "done"}, {Done: true}},
	}}
	registry := tool.New(nil)
	loop := New(Config{Provider: fp, Registry: registry, Model: "fake-model"})
	emit := &recordingEmitter{}
	tc := &tool.Context{SessionID: "session-1"}

	control := make(chan *ipc.Envelope, 1)
	control <- &ipc.Envelope{Kind: ipc.KindAnswer, QuestionID: "q1", Answer: "yes, proceed"}

	result, err := loop.Run(context.Background(), tc, emit, control, nil)
	require.NoError(t, err)
	require.Equal(t, "done", result.Message.Content)

	require.Len(t, fp.requests, 1)
	toolResults := fp.requests[0].Messages[0].ToolResults
	require.Len(t, toolResults, 1)
	require.Equal(t, "q1", toolResults[0].ToolCallID)
	require.Equal(t, "yes, proceed", toolResults[0].Content)
}

func TestRunStopsAtMaxIterationsWithToolCallsEveryTurn(t *testing.T) {
	callInput := json.RawMessage(`{}`)
	responses := make([][]*provider.CompletionChunk, 3)
	for i := range responses {
		responses[i] = []*provider.CompletionChunk{
			{ToolCall: &model.ToolCall{ID: "call", Name: "echo", Input: callInput}}, {Done: true},
		}
	}
	fp := &fakeProvider{responses: responses}
	registry := tool.New(nil)
	registry.Register(echoTool{})
	loop := New(Config{Provider: fp, Registry: registry, Model: "fake-model", MaxIterations: 3})
	emit := &recordingEmitter{}
	tc := &tool.Context{SessionID: "session-1"}

	result, err := loop.Run(context.Background(), tc, emit, make(chan *ipc.Envelope), nil)
	require.NoError(t, err)
	require.Contains(t, result.Message.Content, "iteration limit reached")
}
