package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/batchismo/core/internal/model"
)

// FSWriteTool writes (or appends to) a file, subject to PathPolicy.
type FSWriteTool struct{}

func NewFSWriteTool() *FSWriteTool { return &FSWriteTool{} }

func (t *FSWriteTool) Name() string        { return "fs_write" }
func (t *FSWriteTool) Description() string { return "Write or append content to a file within the granted path policy." }
func (t *FSWriteTool) Capabilities() []Capability {
	return []Capability{CapFilesystemWrite}
}

func (t *FSWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"},
			"append": {"type": "boolean"}
		},
		"required": ["path", "content"]
	}`)
}

type fsWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
}

func (t *FSWriteTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in fsWriteInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if !tc.Policy.AllowWrite(in.Path) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Path), IsError: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(in.Path), 0o755); err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	flags := os.O_CREATE | os.O_WRONLY
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(in.Path, flags, 0o644)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	defer f.Close()
	n, err := f.WriteString(in.Content)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	body, _ := json.Marshal(map[string]any{"path": in.Path, "bytes_written": n, "append": in.Append})
	return &model.ToolResult{Content: string(body)}, nil
}
