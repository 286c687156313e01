// Package tool implements the ToolRegistry and the individual tools
// exposed to the model (spec.md §4.8), grounded on the teacher's
// internal/agent.ToolRegistry (filterToolsByPolicy/matchToolPattern) and
// internal/tools/files (Resolver/ReadTool/WriteTool), generalized from a
// single workspace root to the PathPolicy rule set and from tool-name
// profiles to an explicit disabled-tools set.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/batchismo/core/internal/bridge"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/pathpolicy"
	"github.com/batchismo/core/internal/provider"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Capability tags what a tool needs, letting a worker registry be built
// with only the capabilities its task requires.
type Capability string

const (
	CapFilesystemRead  Capability = "filesystem_read"
	CapFilesystemWrite Capability = "filesystem_write"
	CapNetwork         Capability = "network"
	CapProcess         Capability = "process"
	CapBridge          Capability = "bridge"
)

// MaxOutputBytes is the default byte bound on tool output content (spec.md
// §4.8: "Tool outputs are byte-bounded (default 256 KiB)").
const MaxOutputBytes = 256 << 10

const truncationMarker = "\n...[truncated]"

// Context carries the per-turn state a tool's Execute needs: the
// immutable path-policy snapshot for this turn and the bridge for
// gateway-backed operations. It is passed explicitly rather than over
// context.Context so tools declare their dependencies in their signature.
type Context struct {
	SessionID string
	Policy    *pathpolicy.Policy
	Bridge    *bridge.Bridge
}

// Tool is one callable action or orchestrator operation.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Capabilities() []Capability
	Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error)
}

// Registry holds the tools available to one session kind (orchestrator or
// worker) and dispatches calls through schema validation and the
// disabled-tools set.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]Tool
	schemas       map[string]*jsonschema.Schema
	disabledTools map[string]bool
}

// New builds an empty registry with the given disabled tool names (exact
// match, spec.md §4.8: "Disabled tools are never offered to the model and
// refuse execution with a clear error if somehow invoked").
func New(disabledTools []string) *Registry {
	disabled := make(map[string]bool, len(disabledTools))
	for _, name := range disabledTools {
		disabled[name] = true
	}
	return &Registry{
		tools:         map[string]Tool{},
		schemas:       map[string]*jsonschema.Schema{},
		disabledTools: disabled,
	}
}

// Register compiles t's JSON schema and adds it to the registry. Panics on
// an invalid schema, since tool schemas are static and checked at
// construction, never at request time.
func (r *Registry) Register(t Tool) {
	compiler := jsonschema.NewCompiler()
	schemaURL := "mem://" + t.Name() + ".json"
	if err := compiler.AddResource(schemaURL, mustJSONReader(t.Schema())); err != nil {
		panic(fmt.Sprintf("tool %q: invalid schema: %v", t.Name(), err))
	}
	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("tool %q: compile schema: %v", t.Name(), err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = compiled
}

// AsToolSpecs returns the tools offered to the model, excluding disabled
// ones entirely (they must never appear in the model's tool list).
func (r *Registry) AsToolSpecs() []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]provider.ToolSpec, 0, len(r.tools))
	for name, t := range r.tools {
		if r.disabledTools[name] {
			continue
		}
		specs = append(specs, provider.ToolSpec{Name: name, Description: t.Description(), Schema: t.Schema()})
	}
	return specs
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Dispatch validates call.Input against the tool's schema, refuses
// disabled tools, executes, and truncates output over MaxOutputBytes. It
// never panics and never lets a tool-level error escape as anything other
// than a ToolResult{IsError:true} (spec.md §4.8 dispatch contract).
func (r *Registry) Dispatch(ctx context.Context, tc *Context, call model.ToolCall) *model.ToolResult {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	disabled := r.disabledTools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return errorResult(call.ID, fmt.Sprintf("unknown tool: %s", call.Name))
	}
	if disabled {
		return errorResult(call.ID, fmt.Sprintf("tool disabled: %s", call.Name))
	}

	var parsed any
	if len(call.Input) == 0 {
		parsed = map[string]any{}
	} else if err := json.Unmarshal(call.Input, &parsed); err != nil {
		return errorResult(call.ID, fmt.Sprintf("invalid input: %v", err))
	}
	if err := schema.Validate(parsed); err != nil {
		return errorResult(call.ID, fmt.Sprintf("invalid input: %v", err))
	}

	result, err := t.Execute(ctx, tc, call.Input)
	if err != nil {
		return errorResult(call.ID, err.Error())
	}
	result.ToolCallID = call.ID
	result.Content = truncate(result.Content)
	return result
}

func truncate(content string) string {
	if len(content) <= MaxOutputBytes {
		return content
	}
	cut := MaxOutputBytes - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return content[:cut] + truncationMarker
}

func errorResult(toolCallID, message string) *model.ToolResult {
	return &model.ToolResult{ToolCallID: toolCallID, Content: message, IsError: true}
}
