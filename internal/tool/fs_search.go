package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/batchismo/core/internal/model"
)

// maxSearchFileBytes skips files larger than this rather than reading them
// whole into memory; fs_search is for source-sized text files, not blobs.
const maxSearchFileBytes = 4 << 20

// maxSearchMatches bounds how many matches fs_search returns, independent
// of the registry's output truncation — a match list is meant to be
// scannable, not exhaustive.
const maxSearchMatches = 200

// FSSearchTool walks a directory tree looking for a regular-expression
// match against file contents, subject to PathPolicy on the root and on
// every file it opens along the way.
type FSSearchTool struct{}

func NewFSSearchTool() *FSSearchTool { return &FSSearchTool{} }

func (t *FSSearchTool) Name() string        { return "fs_search" }
func (t *FSSearchTool) Description() string { return "Search files under a directory for a regular-expression pattern." }
func (t *FSSearchTool) Capabilities() []Capability {
	return []Capability{CapFilesystemRead}
}

func (t *FSSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"root": {"type": "string"},
			"pattern": {"type": "string"},
			"glob": {"type": "string", "description": "Optional filename glob, e.g. *.go"}
		},
		"required": ["root", "pattern"]
	}`)
}

type fsSearchInput struct {
	Root    string `json:"root"`
	Pattern string `json:"pattern"`
	Glob    string `json:"glob"`
}

type fsSearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *FSSearchTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in fsSearchInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if !tc.Policy.AllowRead(in.Root) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Root), IsError: true}, nil
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return &model.ToolResult{Content: fmt.Sprintf("invalid pattern: %v", err), IsError: true}, nil
	}

	var matches []fsSearchMatch
	var truncated bool
	walkErr := filepath.WalkDir(in.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !tc.Policy.AllowRead(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxSearchMatches {
			truncated = true
			return filepath.SkipAll
		}
		if in.Glob != "" {
			if ok, _ := filepath.Match(in.Glob, d.Name()); !ok {
				return nil
			}
		}
		if !tc.Policy.AllowRead(path) {
			return nil
		}
		searchFile(path, re, &matches)
		return nil
	})
	if walkErr != nil {
		return &model.ToolResult{Content: walkErr.Error(), IsError: true}, nil
	}

	body, _ := json.Marshal(map[string]any{"root": in.Root, "matches": matches, "truncated": truncated})
	return &model.ToolResult{Content: string(body)}, nil
}

func searchFile(path string, re *regexp.Regexp, matches *[]fsSearchMatch) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxSearchFileBytes {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for i, line := range strings.Split(string(data), "\n") {
		if len(*matches) >= maxSearchMatches {
			return
		}
		if re.MatchString(line) {
			*matches = append(*matches, fsSearchMatch{Path: path, Line: i + 1, Text: line})
		}
	}
}
