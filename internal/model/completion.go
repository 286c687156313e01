package model

// CompletionMessage is one turn of provider-facing conversation history,
// converted from/to the session's Message sequence by the agent loop.
type CompletionMessage struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}
