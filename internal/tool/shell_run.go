package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/batchismo/core/internal/model"
)

// Pattern and validation helpers for executable safety, grounded on the
// teacher's internal/exec safety checks: no shell metacharacters, no
// control characters, no quote characters, and option-injection ("-foo")
// is rejected for bare names. shell_run never hands its argv to a shell —
// exec.Command runs the program directly — so these checks exist to stop
// an argument itself from smuggling a second command via a misused $PATH
// entry or an unexpectedly shell-interpreting child, not to escape a shell
// that isn't there.
var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
	controlChars   = regexp.MustCompile(`[\r\n]`)
	quoteChars     = regexp.MustCompile(`["']`)
	bareNamePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
)

func isLikelyPath(value string) bool {
	return strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") ||
		strings.Contains(value, "/") || strings.Contains(value, "\\")
}

func isSafeExecutableValue(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "\x00") {
		return false
	}
	if controlChars.MatchString(trimmed) || shellMetachars.MatchString(trimmed) || quoteChars.MatchString(trimmed) {
		return false
	}
	if isLikelyPath(trimmed) {
		return true
	}
	if strings.HasPrefix(trimmed, "-") {
		return false
	}
	return bareNamePattern.MatchString(trimmed)
}

// defaultShellTimeout bounds how long a shell_run call may run before it is
// killed, independent of the turn deadline the supervisor enforces.
const defaultShellTimeout = 60 * time.Second

const maxShellOutputBytes = 256 << 10

// ShellRunTool runs a single command (no shell, no pipeline), subject to
// PathPolicy on the working directory. The command value must pass
// isSafeExecutableValue; arguments are only checked for control characters.
type ShellRunTool struct{}

func NewShellRunTool() *ShellRunTool { return &ShellRunTool{} }

func (t *ShellRunTool) Name() string        { return "shell_run" }
func (t *ShellRunTool) Description() string { return "Run a single command with arguments, no shell interpretation." }
func (t *ShellRunTool) Capabilities() []Capability {
	return []Capability{CapProcess}
}

func (t *ShellRunTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"},
			"args": {"type": "array", "items": {"type": "string"}},
			"cwd": {"type": "string"},
			"timeout_seconds": {"type": "integer", "minimum": 1}
		},
		"required": ["command"]
	}`)
}

type shellRunInput struct {
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	Cwd            string   `json:"cwd"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type shellRunOutput struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated"`
}

func (t *ShellRunTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in shellRunInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if !isSafeExecutableValue(in.Command) {
		return &model.ToolResult{Content: fmt.Sprintf("unsafe command value: %q", in.Command), IsError: true}, nil
	}
	for _, a := range in.Args {
		if controlChars.MatchString(a) {
			return &model.ToolResult{Content: "argument contains control characters", IsError: true}, nil
		}
	}
	if in.Cwd != "" && !tc.Policy.AllowRead(in.Cwd) {
		return &model.ToolResult{Content: fmt.Sprintf("path not permitted: %s", in.Cwd), IsError: true}, nil
	}

	timeout := defaultShellTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, in.Command, in.Args...)
	if in.Cwd != "" {
		cmd.Dir = in.Cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil && exitCode == 0 {
		exitCode = -1
	}

	out := shellRunOutput{
		ExitCode: exitCode,
		Stdout:   capBytes(stdout.String(), maxShellOutputBytes),
		Stderr:   capBytes(stderr.String(), maxShellOutputBytes),
	}
	out.Truncated = len(stdout.String()) > maxShellOutputBytes || len(stderr.String()) > maxShellOutputBytes

	body, _ := json.Marshal(out)
	isError := runErr != nil && exitCode == -1
	return &model.ToolResult{Content: string(body), IsError: isError}, nil
}

func capBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
