// Package config loads the gateway's configuration file, recognizing
// exactly the keys spec.md §6 names. It is grounded on the teacher's
// internal/config loader: the same recursive `$include`/`include` merge
// over raw maps, the same by-extension dispatch (`.json`/`.json5` through
// json5.Unmarshal, everything else as YAML) before a single strict decode
// into a typed struct, trimmed from the teacher's sprawling multi-file
// Config (channels, RAG, MCP, skills, ...) down to the agent-runtime-core's
// much smaller recognized-option surface.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/batchismo/core/internal/model"
)

const includeKey = "include"

// AgentConfig covers agent.* keys.
type AgentConfig struct {
	Name          string              `yaml:"name"`
	Model         string              `yaml:"model"`
	ThinkingLevel model.ThinkingLevel `yaml:"thinking_level"`
	DisabledTools []string            `yaml:"disabled_tools"`
}

// SandboxConfig covers sandbox.* keys.
type SandboxConfig struct {
	MaxConcurrentSubagents int `yaml:"max_concurrent_subagents"`
}

// GatewayConfig covers gateway.* keys.
type GatewayConfig struct {
	LogLevel string `yaml:"log_level"`
}

// MemoryUpdateMode is consumed out of core (spec.md §6); the gateway only
// stores and returns it via get_config/update_config.
type MemoryUpdateMode string

const (
	MemoryUpdateAuto   MemoryUpdateMode = "auto"
	MemoryUpdateReview MemoryUpdateMode = "review"
	MemoryUpdateManual MemoryUpdateMode = "manual"
)

// MemoryConfig covers memory.* keys.
type MemoryConfig struct {
	UpdateMode MemoryUpdateMode `yaml:"update_mode"`
}

// Config is the full recognized-option surface.
type Config struct {
	Agent   AgentConfig          `yaml:"agent"`
	Paths   []model.PolicyRule   `yaml:"paths"`
	Sandbox SandboxConfig        `yaml:"sandbox"`
	Gateway GatewayConfig        `yaml:"gateway"`
	Memory  MemoryConfig         `yaml:"memory"`
}

// Default returns a Config with the core's documented defaults applied.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:          "Batchismo",
			Model:         "anthropic/claude-sonnet-4-20250514",
			ThinkingLevel: model.ThinkingOff,
		},
		Sandbox: SandboxConfig{MaxConcurrentSubagents: 4},
		Gateway: GatewayConfig{LogLevel: "info"},
		Memory:  MemoryConfig{UpdateMode: MemoryUpdateAuto},
	}
}

// Load reads path, resolving `include`/`$include` directives recursively,
// then decodes the merged map into a Config seeded with Default(). Unknown
// keys are ignored by yaml.v3's loose default decode (KnownFields is not
// set, since out-of-core consumers like the shell may persist sibling keys
// in the same file and the core must not reject the file over them); they
// are not kept in the returned Config.
func Load(path string) (*Config, error) {
	raw, err := loadRawRecursive(path, map[string]bool{})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: re-marshal merged map: %w", err)
	}
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Save serializes cfg as YAML and writes it to path, overwriting any
// existing file. It does not attempt to preserve include directives or
// comments from the file Load originally read.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	raw, err := parseRawBytes([]byte(expanded), absPath)
	if err != nil {
		return nil, err
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incRaw, err := loadRawRecursive(incPath, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}
	return mergeMaps(merged, raw), nil
}

// parseRawBytes decodes a config file's content into a raw map, dispatching
// by extension the way the teacher's loader does: .json/.json5 through
// json5.Unmarshal (which also accepts plain JSON), everything else as YAML.
func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&raw); err != nil && err != io.EOF {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	var val any
	if v, ok := raw["$include"]; ok {
		val = v
		delete(raw, "$include")
	} else if v, ok := raw[includeKey]; ok {
		val = v
		delete(raw, includeKey)
	}
	if val == nil {
		return nil, nil
	}
	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		out := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}
