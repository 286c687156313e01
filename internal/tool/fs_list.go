package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/batchismo/core/internal/model"
)

// FSListTool lists a directory's immediate entries, subject to PathPolicy.
type FSListTool struct{}

func NewFSListTool() *FSListTool { return &FSListTool{} }

func (t *FSListTool) Name() string        { return "fs_list" }
func (t *FSListTool) Description() string { return "List entries in a directory within the granted path policy." }
func (t *FSListTool) Capabilities() []Capability {
	return []Capability{CapFilesystemRead}
}

func (t *FSListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
}

type fsListInput struct {
	Path string `json:"path"`
}

type fsListEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (t *FSListTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in fsListInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if !tc.Policy.AllowRead(in.Path) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Path), IsError: true}, nil
	}
	entries, err := os.ReadDir(in.Path)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	out := make([]fsListEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, fsListEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	body, _ := json.Marshal(map[string]any{"path": in.Path, "entries": out})
	return &model.ToolResult{Content: string(body)}, nil
}

// FSStatTool reports metadata for a single path, subject to PathPolicy.
type FSStatTool struct{}

func NewFSStatTool() *FSStatTool { return &FSStatTool{} }

func (t *FSStatTool) Name() string        { return "fs_stat" }
func (t *FSStatTool) Description() string { return "Report size, type, and modification time for a path." }
func (t *FSStatTool) Capabilities() []Capability {
	return []Capability{CapFilesystemRead}
}

func (t *FSStatTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
}

func (t *FSStatTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in fsListInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if !tc.Policy.AllowRead(in.Path) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Path), IsError: true}, nil
	}
	info, err := os.Stat(in.Path)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	body, _ := json.Marshal(map[string]any{
		"path": in.Path, "size": info.Size(), "is_dir": info.IsDir(), "modified_at": info.ModTime(),
	})
	return &model.ToolResult{Content: string(body)}, nil
}

// FSMoveTool renames/moves a path; both the source and destination must be
// permitted (the source needs read, the destination needs write).
type FSMoveTool struct{}

func NewFSMoveTool() *FSMoveTool { return &FSMoveTool{} }

func (t *FSMoveTool) Name() string        { return "fs_move" }
func (t *FSMoveTool) Description() string { return "Move or rename a file or directory." }
func (t *FSMoveTool) Capabilities() []Capability {
	return []Capability{CapFilesystemRead, CapFilesystemWrite}
}

func (t *FSMoveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"source": {"type": "string"}, "destination": {"type": "string"}},
		"required": ["source", "destination"]
	}`)
}

type fsMoveInput struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (t *FSMoveTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in fsMoveInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if !tc.Policy.AllowRead(in.Source) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Source), IsError: true}, nil
	}
	if !tc.Policy.AllowWrite(in.Destination) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Destination), IsError: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(in.Destination), 0o755); err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if err := os.Rename(in.Source, in.Destination); err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	body, _ := json.Marshal(map[string]any{"source": in.Source, "destination": in.Destination})
	return &model.ToolResult{Content: string(body)}, nil
}
