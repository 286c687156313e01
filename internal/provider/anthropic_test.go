package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/batchismo/core/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	require.Error(t, err)
}

func TestNewAnthropicProviderAppliesDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)
	require.Equal(t, 2, p.maxRetries)
	require.Equal(t, "claude-sonnet-4-20250514", p.defaultModel)
	require.NotNil(t, p.logger)
	require.Equal(t, "anthropic", p.Name())
}

func TestNewAnthropicProviderKeepsExplicitOverrides(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", DefaultModel: "claude-haiku-4", MaxRetries: 5})
	require.NoError(t, err)
	require.Equal(t, 5, p.maxRetries)
	require.Equal(t, "claude-haiku-4", p.defaultModel)
}

func TestResolveModelStripsProviderPrefix(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", p.resolveModel("anthropic/claude-opus-4"))
}

func TestResolveModelFallsBackToDefaultWhenEmpty(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", DefaultModel: "claude-haiku-4"})
	require.NoError(t, err)
	require.Equal(t, "claude-haiku-4", p.resolveModel(""))
}

func TestResolveModelLeavesUnprefixedNameUnchanged(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", p.resolveModel("claude-opus-4"))
}

func TestThinkingBudgetForKnownLevels(t *testing.T) {
	require.Equal(t, 2048, thinkingBudgetFor(model.ThinkingLow))
	require.Equal(t, 8192, thinkingBudgetFor(model.ThinkingMedium))
	require.Equal(t, 24576, thinkingBudgetFor(model.ThinkingHigh))
	require.Equal(t, 4096, thinkingBudgetFor(model.ThinkingLevel("")))
}

func TestConvertMessagesConvertsTextAndToolContent(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)

	messages := []model.CompletionMessage{
		{Role: model.RoleUser, Content: "hello"},
		{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)},
			},
		},
		{
			Role:        model.RoleUser,
			ToolResults: []model.ToolResult{{ToolCallID: "call-1", Content: "hi"}},
		},
	}

	out, err := p.convertMessages(messages)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestConvertMessagesRejectsMalformedToolCallInput(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)

	messages := []model.CompletionMessage{
		{
			Role:      model.RoleAssistant,
			ToolCalls: []model.ToolCall{{ID: "call-1", Name: "echo", Input: json.RawMessage(`not json`)}},
		},
	}

	_, err = p.convertMessages(messages)
	require.Error(t, err)
}

func TestConvertToolsRejectsMalformedSchema(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)

	_, err = p.convertTools([]ToolSpec{{Name: "broken", Schema: json.RawMessage(`not json`)}})
	require.Error(t, err)
}

func TestIsRetryableMatchesDeadlineExceeded(t *testing.T) {
	require.True(t, isRetryable(context.DeadlineExceeded))
}

func TestIsRetryableRejectsArbitraryError(t *testing.T) {
	require.False(t, isRetryable(errors.New("boom")))
}
