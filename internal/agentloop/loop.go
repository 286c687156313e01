// Package agentloop drives one turn's model/tool iteration inside the
// per-turn agent process (spec.md §4.7). It is grounded on the teacher's
// internal/agent.AgenticLoop.Run state machine (PhaseStream ->
// PhaseExecuteTools -> PhaseContinue under a MaxIterations cap), generalized
// from the teacher's always-streaming single-process loop in two ways: only
// the first iteration streams (subsequent calls are request/response), and
// the teacher's in-process SteeringQueue becomes inbound IPC control frames
// (Pause/Resume/Cancel/Instruction) read off the turn's connection.
package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/ipc"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/provider"
	"github.com/batchismo/core/internal/tool"
	"github.com/google/uuid"
)

// DefaultMaxIterations is the bounded loop's default iteration cap.
const DefaultMaxIterations = 10

// DefaultMaxTokens is the default max_tokens for every model call in a turn.
const DefaultMaxTokens = 4096

// Emitter sends an agent->gateway envelope over the turn's IPC connection.
// *ipc.Conn satisfies this directly.
type Emitter interface {
	Send(env *ipc.Envelope) error
}

// Config configures one turn.
type Config struct {
	Provider      provider.Provider
	Registry      *tool.Registry
	Model         string
	ThinkingLevel model.ThinkingLevel
	MaxIterations int
	MaxTokens     int
	SystemPrompt  string
}

// Loop runs a single turn to completion or failure.
type Loop struct {
	cfg Config
}

// New builds a Loop, applying spec.md §4.7's defaults.
func New(cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Loop{cfg: cfg}
}

// Result is the outcome of a completed turn, ready to become a
// TurnComplete envelope.
type Result struct {
	Message     *model.Message
	TokenInput  int64
	TokenOutput int64
}

// Run executes the bounded iteration loop. history is the turn's prior
// conversation (for `main` sessions: the session's persisted history plus
// the new user message already appended by the caller; for `worker`
// sessions: just the task as a single user message). control delivers
// inbound lifecycle frames (Pause/Resume/Cancel/Instruction) observed
// between loop steps; it is read non-blockingly except while paused.
func (l *Loop) Run(ctx context.Context, tc *tool.Context, emit Emitter, control <-chan *ipc.Envelope, history []model.CompletionMessage) (*Result, error) {
	messages := append([]model.CompletionMessage(nil), history...)
	tools := l.cfg.Registry.AsToolSpecs()

	var tokenIn, tokenOut int64
	var finalText strings.Builder
	var notes []string
	var answers []model.ToolResult
	iteration := 0

	for ; iteration < l.cfg.MaxIterations; iteration++ {
		if err := l.drainControl(ctx, control, &notes, &answers); err != nil {
			return nil, err
		}
		if len(answers) > 0 {
			messages = append(messages, model.CompletionMessage{Role: model.RoleUser, ToolResults: answers})
			answers = nil
		}

		system := l.cfg.SystemPrompt
		if len(notes) > 0 {
			system = system + "\n\n# Instructions received mid-turn\n" + strings.Join(notes, "\n")
		}

		req := &provider.CompletionRequest{
			Model:         l.cfg.Model,
			System:        system,
			Messages:      messages,
			Tools:         tools,
			MaxTokens:     l.cfg.MaxTokens,
			Stream:        iteration == 0,
			ThinkingLevel: l.cfg.ThinkingLevel,
		}

		iterText, toolCalls, in, out, err := l.runOneIteration(ctx, emit, req)
		if err != nil {
			return nil, err
		}
		tokenIn += in
		tokenOut += out

		if len(toolCalls) == 0 {
			finalText.WriteString(iterText)
			return l.finalize(tc.SessionID, finalText.String(), tokenIn, tokenOut), nil
		}

		assistantTurn := model.CompletionMessage{Role: model.RoleAssistant, Content: iterText, ToolCalls: toolCalls}
		messages = append(messages, assistantTurn)

		results := make([]model.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			if err := l.drainControl(ctx, control, &notes, &answers); err != nil {
				return nil, err
			}
			if emitErr := emit.Send(&ipc.Envelope{Kind: ipc.KindToolCallStart, ToolCall: &call}); emitErr != nil {
				return nil, corerr.Wrap(corerr.ProtocolError, emitErr, "emit tool call start")
			}
			result := l.cfg.Registry.Dispatch(ctx, tc, call)
			if emitErr := emit.Send(&ipc.Envelope{Kind: ipc.KindToolCallResult, ToolCall: &call, ToolResult: result}); emitErr != nil {
				return nil, corerr.Wrap(corerr.ProtocolError, emitErr, "emit tool call result")
			}
			results = append(results, *result)
		}
		messages = append(messages, model.CompletionMessage{Role: model.RoleUser, ToolResults: results})
		finalText.Reset()
	}

	finalText.WriteString("\n\n[iteration limit reached after ")
	fmt.Fprintf(&finalText, "%d tool-use iterations]", l.cfg.MaxIterations)
	return l.finalize(tc.SessionID, finalText.String(), tokenIn, tokenOut), nil
}

// runOneIteration calls the provider once, draining its chunk stream into
// an emitted TextDelta per chunk and an accumulated tool-call list.
func (l *Loop) runOneIteration(ctx context.Context, emit Emitter, req *provider.CompletionRequest) (string, []model.ToolCall, int64, int64, error) {
	stream, err := l.cfg.Provider.Complete(ctx, req)
	if err != nil {
		return "", nil, 0, 0, corerr.Wrap(corerr.UpstreamError, err, "model completion")
	}

	var text strings.Builder
	var toolCalls []model.ToolCall
	var tokenIn, tokenOut int64

	for chunk := range stream {
		if chunk.Error != nil {
			return "", nil, tokenIn, tokenOut, corerr.Wrap(corerr.UpstreamError, chunk.Error, "model stream")
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if emitErr := emit.Send(&ipc.Envelope{Kind: ipc.KindTextDelta, Content: chunk.Text}); emitErr != nil {
				return "", nil, tokenIn, tokenOut, corerr.Wrap(corerr.ProtocolError, emitErr, "emit text delta")
			}
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.InputTokens > 0 {
			tokenIn = int64(chunk.InputTokens)
		}
		if chunk.OutputTokens > 0 {
			tokenOut = int64(chunk.OutputTokens)
		}
	}
	return text.String(), toolCalls, tokenIn, tokenOut, nil
}

func (l *Loop) finalize(sessionID, content string, tokenIn, tokenOut int64) *Result {
	return &Result{
		Message: &model.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      model.RoleAssistant,
			Content:   content,
		},
		TokenInput:  tokenIn,
		TokenOutput: tokenOut,
	}
}

// drainControl processes every buffered control frame without blocking,
// except that a Pause frame blocks until Resume or Cancel arrives. An
// Answer frame (spec.md §4.7: "on Answer they resume the loop with the
// answer as tool-result content") is accumulated into answers, keyed by
// its question id, and flushed into the conversation by the caller ahead
// of the next model call.
func (l *Loop) drainControl(ctx context.Context, control <-chan *ipc.Envelope, notes *[]string, answers *[]model.ToolResult) error {
	for {
		select {
		case env, ok := <-control:
			if !ok {
				return nil
			}
			switch env.Kind {
			case ipc.KindInstruction:
				*notes = append(*notes, env.Content)
			case ipc.KindAnswer:
				*answers = append(*answers, model.ToolResult{ToolCallID: env.QuestionID, Content: env.Answer})
			case ipc.KindCancel:
				return corerr.New(corerr.Cancelled, "turn cancelled: %s", env.Reason)
			case ipc.KindPause:
				if err := l.waitForResume(ctx, control); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return corerr.Wrap(corerr.Cancelled, ctx.Err(), "turn context cancelled")
		default:
			return nil
		}
	}
}

// waitForResume blocks the loop cooperatively while Paused, per spec.md
// §4.7 ("Pause transitions to a cooperative wait until Resume/Cancel").
func (l *Loop) waitForResume(ctx context.Context, control <-chan *ipc.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return corerr.Wrap(corerr.Cancelled, ctx.Err(), "turn cancelled while paused")
		case env, ok := <-control:
			if !ok {
				return corerr.New(corerr.Cancelled, "control channel closed while paused")
			}
			switch env.Kind {
			case ipc.KindResume:
				return nil
			case ipc.KindCancel:
				return corerr.New(corerr.Cancelled, "turn cancelled: %s", env.Reason)
			}
		}
	}
}
