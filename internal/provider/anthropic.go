package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/batchismo/core/internal/model"
)

// defaultAPIVersion matches spec.md §6 ("a configured API version header,
// default 2023-06-01 for the primary provider"); the SDK sets this
// internally, this constant documents the contract.
const defaultAPIVersion = "2023-06-01"

// maxEmptyStreamEvents bounds how many consecutive events with no
// observable effect are tolerated before a stream is treated as
// malformed, matching the teacher's stream-health guard.
const maxEmptyStreamEvents = 50

// AnthropicConfig configures the default model provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	Logger       *slog.Logger
}

// AnthropicProvider implements Provider against Anthropic's Messages API,
// following the teacher's AnthropicProvider: SSE streaming decode via
// ssestream, retry with exponential backoff limited to transient classes
// (spec.md §7 UpstreamError: "retried ... at most twice").
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewAnthropicProvider builds a provider from cfg, applying spec.md
// defaults (at most two retries) when unset.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		logger:       logger,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// resolveModel strips a provider prefix like "anthropic/" before API use,
// per spec.md §6 ("a provider prefix such as anthropic/ is stripped
// before API use").
func (p *AnthropicProvider) resolveModel(requested string) string {
	m := requested
	if m == "" {
		m = p.defaultModel
	}
	if idx := strings.Index(m, "/"); idx >= 0 {
		m = m[idx+1:]
	}
	return m
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	chunks := make(chan *CompletionChunk)

	go func() {
		defer close(chunks)

		if !req.Stream {
			p.completeNonStreaming(ctx, req, chunks)
			return
		}

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryable(err) {
				chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: %w", err)}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &CompletionChunk{Error: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", err)}
			return
		}
		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

// completeNonStreaming issues a plain request/response call, used for
// every iteration after the turn's first (spec.md §4.7: "Subsequent
// iterations may be non-streaming"). The full response is synthesized
// into the same chunk sequence a stream would have produced (one Text
// chunk per text block, one ToolCall chunk per tool-use block, a trailing
// Done), so AgentLoop does not need a second code path.
func (p *AnthropicProvider) completeNonStreaming(ctx context.Context, req *CompletionRequest, chunks chan<- *CompletionChunk) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: %w", err)}
		return
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.resolveModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: %w", err)}
			return
		}
		params.Tools = tools
	}

	var resp *anthropic.Message
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err = p.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: %w", err)}
			return
		}
		if attempt < p.maxRetries {
			backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- &CompletionChunk{Error: ctx.Err()}
				return
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", err)}
		return
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			chunks <- &CompletionChunk{Text: block.AsText().Text}
		case "tool_use":
			tu := block.AsToolUse()
			input, _ := json.Marshal(tu.Input)
			chunks <- &CompletionChunk{ToolCall: &model.ToolCall{ID: tu.ID, Name: tu.Name, Input: input}}
		}
	}
	chunks <- &CompletionChunk{
		Done:         true,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.resolveModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if req.ThinkingLevel != "" && req.ThinkingLevel != model.ThinkingOff {
		budget := req.ThinkingBudgetTokens
		if budget <= 0 {
			budget = thinkingBudgetFor(req.ThinkingLevel)
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return p.client.Messages.NewStreaming(ctx, params), nil
}

func thinkingBudgetFor(level model.ThinkingLevel) int {
	switch level {
	case model.ThinkingLow:
		return 2048
	case model.ThinkingMedium:
		return 8192
	case model.ThinkingHigh:
		return 24576
	default:
		return 4096
	}
}

func (p *AnthropicProvider) convertTools(specs []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: convert tool %q schema: %w", spec.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		out = append(out, tool)
	}
	return out, nil
}

func (p *AnthropicProvider) convertMessages(messages []model.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: convert tool call %q input: %w", tc.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		var m anthropic.MessageParam
		if msg.Role == model.RoleAssistant {
			m = anthropic.NewAssistantMessage(content...)
		} else {
			m = anthropic.NewUserMessage(content...)
		}
		result = append(result, m)
	}
	return result, nil
}

// processStream decodes Anthropic's SSE events into CompletionChunks,
// accumulating tool-use input JSON across input_json_delta events until
// the block closes, exactly like the teacher's processStream.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *CompletionChunk) {
	var currentToolCall *model.ToolCall
	var currentToolInput strings.Builder
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		handled := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
			handled = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &model.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				handled = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &CompletionChunk{Text: delta.Text}
					handled = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &CompletionChunk{Thinking: delta.Thinking}
					handled = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					handled = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				handled = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			handled = true

		case "message_stop":
			chunks <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &CompletionChunk{Error: errors.New("anthropic: stream error event")}
			return
		}

		if handled {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: stream appears malformed after %d empty events", emptyEvents)}
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- &CompletionChunk{Error: fmt.Errorf("anthropic: %w", err)}
	}
}

// isRetryable matches the transient network/5xx classes spec.md §7 allows
// retrying (UpstreamError, at most twice).
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}
