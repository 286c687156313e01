package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsForOmittedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  model: claude-opus-4\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", cfg.Agent.Model)
	require.Equal(t, 4, cfg.Sandbox.MaxConcurrentSubagents, "unset sandbox key keeps the default")
	require.Equal(t, "info", cfg.Gateway.LogLevel)
}

func TestLoadResolvesIncludeDirective(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte("sandbox:\n  max_concurrent_subagents: 8\n"), 0o644))
	require.NoError(t, os.WriteFile(mainPath, []byte("include: base.yaml\nagent:\n  model: claude-opus-4\n"), 0o644))

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Sandbox.MaxConcurrentSubagents)
	require.Equal(t, "claude-opus-4", cfg.Agent.Model)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte("include: b.yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("include: a.yaml\n"), 0o644))

	_, err := Load(a)
	require.Error(t, err)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.Agent.DisabledTools = []string{"shell_run"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"shell_run"}, loaded.Agent.DisabledTools)
	require.Equal(t, cfg.Agent.Model, loaded.Agent.Model)
}

func TestLoadParsesJSON5File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// trailing commas and comments are valid json5
		agent: { model: "claude-opus-4" },
		sandbox: { max_concurrent_subagents: 6 },
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", cfg.Agent.Model)
	require.Equal(t, 6, cfg.Sandbox.MaxConcurrentSubagents)
}

func TestLoadParsesPlainJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agent": {"model": "claude-haiku-4"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-haiku-4", cfg.Agent.Model)
}

func TestLoadResolvesIncludeAcrossFormats(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.json5")
	mainPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte(`{ sandbox: { max_concurrent_subagents: 9 } }`), 0o644))
	require.NoError(t, os.WriteFile(mainPath, []byte("include: base.json5\nagent:\n  model: claude-opus-4\n"), 0o644))

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Sandbox.MaxConcurrentSubagents)
	require.Equal(t, "claude-opus-4", cfg.Agent.Model)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("BATCHISMO_TEST_MODEL", "claude-haiku-4")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  model: ${BATCHISMO_TEST_MODEL}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-haiku-4", cfg.Agent.Model)
}
