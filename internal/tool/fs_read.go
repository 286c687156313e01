package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/batchismo/core/internal/model"
)

// maxReadBytes bounds a single fs_read call, mirroring the teacher's
// ReadTool.maxReadLen default.
const maxReadBytes = 1 << 20

// FSReadTool reads a byte range from a file, subject to PathPolicy.
type FSReadTool struct{}

func NewFSReadTool() *FSReadTool { return &FSReadTool{} }

func (t *FSReadTool) Name() string        { return "fs_read" }
func (t *FSReadTool) Description() string { return "Read bytes from a file within the granted path policy." }
func (t *FSReadTool) Capabilities() []Capability {
	return []Capability{CapFilesystemRead}
}

func (t *FSReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Absolute path to read"},
			"offset": {"type": "integer", "minimum": 0, "description": "Byte offset to start reading from"},
			"max_bytes": {"type": "integer", "minimum": 1, "description": "Maximum bytes to return"}
		},
		"required": ["path"]
	}`)
}

type fsReadInput struct {
	Path     string `json:"path"`
	Offset   int64  `json:"offset"`
	MaxBytes int    `json:"max_bytes"`
}

type fsReadOutput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Offset    int64  `json:"offset"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated"`
}

func (t *FSReadTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in fsReadInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if !tc.Policy.AllowRead(in.Path) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Path), IsError: true}, nil
	}

	f, err := os.Open(in.Path)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if in.Offset > 0 {
		if _, err := f.Seek(in.Offset, 0); err != nil {
			return &model.ToolResult{Content: err.Error(), IsError: true}, nil
		}
	}

	limit := in.MaxBytes
	if limit <= 0 || limit > maxReadBytes {
		limit = maxReadBytes
	}
	remaining := info.Size() - in.Offset
	if remaining < 0 {
		remaining = 0
	}
	truncated := remaining > int64(limit)
	toRead := limit
	if remaining < int64(limit) {
		toRead = int(remaining)
	}
	buf := make([]byte, toRead)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	out := fsReadOutput{Path: in.Path, Content: string(buf[:n]), Offset: in.Offset, Bytes: n, Truncated: truncated}
	body, _ := json.Marshal(out)
	return &model.ToolResult{Content: string(body)}, nil
}
