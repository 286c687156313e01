package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/batchismo/core/internal/bridge"
	"github.com/batchismo/core/internal/model"
)

// Bridge operation names, matching the handlers the gateway's SessionManager
// registers for GatewayBridge.Dispatch (internal/bridge.Bridge.Call's op
// argument). Keeping them here, next to the tools that issue them, avoids a
// separate constants package for an eight-entry enum.
const (
	opSpawnWorker     = "spawn_worker"
	opWorkerStatus    = "worker_status"
	opWorkerPause     = "worker_pause"
	opWorkerResume    = "worker_resume"
	opWorkerInstruct  = "worker_instruct"
	opWorkerCancel    = "worker_cancel"
	opAnswerWorker    = "answer_worker"
	opAskOrchestrator = "ask_orchestrator"
)

func callBridge(ctx context.Context, tc *Context, op string, payload any, timeout time.Duration) (*model.ToolResult, error) {
	if tc.Bridge == nil {
		return &model.ToolResult{Content: "bridge unavailable in this session", IsError: true}, nil
	}
	raw, err := tc.Bridge.Call(ctx, op, payload, timeout)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &model.ToolResult{Content: string(raw)}, nil
}

// SpawnWorkerTool asks the gateway to create a worker session and start its
// turn. Orchestrator-only.
type SpawnWorkerTool struct{}

func NewSpawnWorkerTool() *SpawnWorkerTool { return &SpawnWorkerTool{} }

func (t *SpawnWorkerTool) Name() string        { return "spawn_worker" }
func (t *SpawnWorkerTool) Description() string { return "Spawn a worker session to carry out a task." }
func (t *SpawnWorkerTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *SpawnWorkerTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"label": {"type": "string"},
			"task": {"type": "string"},
			"model": {"type": "string"},
			"paths": {"type": "array", "items": {"type": "object"}}
		},
		"required": ["task"]
	}`)
}

type spawnWorkerInput struct {
	Label string            `json:"label"`
	Task  string            `json:"task"`
	Model string            `json:"model"`
	Paths []model.PolicyRule `json:"paths"`
}

func (t *SpawnWorkerTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in spawnWorkerInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	payload := map[string]any{
		"parent_session_id": tc.SessionID,
		"label":             in.Label,
		"task":              in.Task,
		"model":             in.Model,
		"paths":             in.Paths,
	}
	return callBridge(ctx, tc, opSpawnWorker, payload, bridge.DefaultTimeout)
}

// WorkerStatusTool reports a worker's current SubagentInfo.
type WorkerStatusTool struct{}

func NewWorkerStatusTool() *WorkerStatusTool { return &WorkerStatusTool{} }

func (t *WorkerStatusTool) Name() string        { return "worker_status" }
func (t *WorkerStatusTool) Description() string { return "Report a worker session's current state." }
func (t *WorkerStatusTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *WorkerStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"}},"required":["session_id"]}`)
}

type workerSessionInput struct {
	SessionID string `json:"session_id"`
}

func (t *WorkerStatusTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in workerSessionInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return callBridge(ctx, tc, opWorkerStatus, in, bridge.DefaultTimeout)
}

// WorkerPauseTool issues a cooperative Pause to a worker.
type WorkerPauseTool struct{}

func NewWorkerPauseTool() *WorkerPauseTool { return &WorkerPauseTool{} }

func (t *WorkerPauseTool) Name() string        { return "worker_pause" }
func (t *WorkerPauseTool) Description() string { return "Pause a running worker session." }
func (t *WorkerPauseTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *WorkerPauseTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"}},"required":["session_id"]}`)
}
func (t *WorkerPauseTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in workerSessionInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return callBridge(ctx, tc, opWorkerPause, in, bridge.DefaultTimeout)
}

// WorkerResumeTool resumes a paused worker.
type WorkerResumeTool struct{}

func NewWorkerResumeTool() *WorkerResumeTool { return &WorkerResumeTool{} }

func (t *WorkerResumeTool) Name() string        { return "worker_resume" }
func (t *WorkerResumeTool) Description() string { return "Resume a paused worker session." }
func (t *WorkerResumeTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *WorkerResumeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"}},"required":["session_id"]}`)
}
func (t *WorkerResumeTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in workerSessionInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return callBridge(ctx, tc, opWorkerResume, in, bridge.DefaultTimeout)
}

// WorkerInstructTool injects a system-level note into a worker's next model
// call.
type WorkerInstructTool struct{}

func NewWorkerInstructTool() *WorkerInstructTool { return &WorkerInstructTool{} }

func (t *WorkerInstructTool) Name() string        { return "worker_instruct" }
func (t *WorkerInstructTool) Description() string { return "Send a new instruction to a running worker." }
func (t *WorkerInstructTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *WorkerInstructTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"session_id": {"type": "string"}, "content": {"type": "string"}},
		"required": ["session_id", "content"]
	}`)
}

type workerInstructInput struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (t *WorkerInstructTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in workerInstructInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return callBridge(ctx, tc, opWorkerInstruct, in, bridge.DefaultTimeout)
}

// WorkerCancelTool cancels a worker session.
type WorkerCancelTool struct{}

func NewWorkerCancelTool() *WorkerCancelTool { return &WorkerCancelTool{} }

func (t *WorkerCancelTool) Name() string        { return "worker_cancel" }
func (t *WorkerCancelTool) Description() string { return "Cancel a worker session." }
func (t *WorkerCancelTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *WorkerCancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"session_id": {"type": "string"}, "reason": {"type": "string"}},
		"required": ["session_id"]
	}`)
}

type workerCancelInput struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (t *WorkerCancelTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in workerCancelInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return callBridge(ctx, tc, opWorkerCancel, in, bridge.DefaultTimeout)
}

// AnswerWorkerTool routes an orchestrator's answer back to a worker's
// pending Question.
type AnswerWorkerTool struct{}

func NewAnswerWorkerTool() *AnswerWorkerTool { return &AnswerWorkerTool{} }

func (t *AnswerWorkerTool) Name() string        { return "answer_worker" }
func (t *AnswerWorkerTool) Description() string { return "Answer a worker's pending question." }
func (t *AnswerWorkerTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *AnswerWorkerTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"question_id": {"type": "string"}, "answer": {"type": "string"}},
		"required": ["question_id", "answer"]
	}`)
}

type answerWorkerInput struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

func (t *AnswerWorkerTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in answerWorkerInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return callBridge(ctx, tc, opAnswerWorker, in, bridge.DefaultTimeout)
}

// AskOrchestratorTool is the worker-side counterpart: it raises a question
// to the parent session. When Blocking is true it waits with no timeout
// until the answer arrives, matching GatewayBridge's unbounded wait for
// blocking questions; otherwise the call returns the question id with
// status "pending" and the answer later arrives as an Answer frame.
type AskOrchestratorTool struct{}

func NewAskOrchestratorTool() *AskOrchestratorTool { return &AskOrchestratorTool{} }

func (t *AskOrchestratorTool) Name() string        { return "ask_orchestrator" }
func (t *AskOrchestratorTool) Description() string { return "Ask the parent orchestrator a question, optionally blocking until answered." }
func (t *AskOrchestratorTool) Capabilities() []Capability {
	return []Capability{CapBridge}
}
func (t *AskOrchestratorTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string"},
			"context": {"type": "string"},
			"blocking": {"type": "boolean"}
		},
		"required": ["question"]
	}`)
}

type askOrchestratorInput struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	Blocking bool   `json:"blocking"`
}

func (t *AskOrchestratorTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in askOrchestratorInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	timeout := bridge.DefaultTimeout
	if in.Blocking {
		timeout = 0
	}
	payload := map[string]any{
		"worker_session_id": tc.SessionID,
		"question":          in.Question,
		"context":            in.Context,
		"blocking":          in.Blocking,
	}
	return callBridge(ctx, tc, opAskOrchestrator, payload, timeout)
}
