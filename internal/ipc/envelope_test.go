package ipc

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/batchismo/core/internal/model"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []*Envelope{
		{Kind: KindInit, SessionID: "s1", SessionKind: model.SessionMain, Model: "claude-sonnet-4"},
		{Kind: KindUserMessage, Content: "hello"},
		{Kind: KindToolCallStart, ToolCall: &model.ToolCall{ID: "tc1", Name: "fs_read"}},
		{Kind: KindToolCallResult, ToolResult: &model.ToolResult{ToolCallID: "tc1", Content: "data"}},
		{Kind: KindTurnComplete, TokenInput: 10, TokenOutput: 20},
		{Kind: KindError, ErrorMessage: "boom"},
	}
	for _, env := range cases {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		require.NoError(t, WriteFrame(w, env))

		r := bufio.NewReader(&buf)
		got, err := ReadFrame(r, 0)
		require.NoError(t, err)
		require.Equal(t, env, got)
	}
}

func TestReadFrameRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteFrame(w, &Envelope{Kind: KindUserMessage, Content: "hello"}))

	r := bufio.NewReader(&buf)
	_, err := ReadFrame(r, 4) // smaller than the encoded body
	require.Error(t, err)
	var tooLarge *ErrFrameTooLarge
	require.ErrorAs(t, err, &tooLarge)
}
