package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/batchismo/core/internal/config"
	"github.com/batchismo/core/internal/eventbus"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/session"
	"github.com/batchismo/core/internal/store"
	"github.com/batchismo/core/internal/supervisor"
	"github.com/batchismo/core/internal/worker"
)

func newTestGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	if _, err := st.CreateSession(ctx, "main", "anthropic/claude-sonnet-4-20250514"); err != nil {
		t.Fatalf("seed main session: %v", err)
	}
	bus := eventbus.New(nil)
	reg, err := worker.New(ctx, st)
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	sup, err := supervisor.New(supervisor.Config{AgentBinaryPath: "/nonexistent/batchismo-agent"})
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	mgr := session.New(session.Config{Store: st, Bus: bus, Supervisor: sup, Registry: reg})

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	return New(st, bus, mgr, reg, cfg, cfgPath), cfgPath
}

func TestCreateAndGetSession(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	sess, err := gw.CreateSession(ctx, "work", "anthropic/claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Kind != model.SessionMain {
		t.Fatalf("expected main session kind, got %s", sess.Kind)
	}

	got, err := gw.GetSession(ctx, "work")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("GetSession returned a different session")
	}

	if _, err := gw.CreateSession(ctx, "work", ""); err == nil {
		t.Fatal("expected conflicting key error")
	}
}

func TestDeleteSessionProtectsMain(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	mainSess, err := gw.GetSession(ctx, "main")
	if err != nil {
		t.Fatalf("GetSession(main): %v", err)
	}
	if err := gw.DeleteSession(ctx, mainSess.ID); err == nil {
		t.Fatal("expected deleting main session to fail")
	}

	child, err := gw.CreateSession(ctx, "scratch", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := gw.DeleteSession(ctx, child.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := gw.GetSession(ctx, "scratch"); err == nil {
		t.Fatal("expected session to be gone")
	}
}

func TestListSessionsOrderedByCreation(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	if _, err := gw.CreateSession(ctx, "a", ""); err != nil {
		t.Fatalf("CreateSession a: %v", err)
	}
	if _, err := gw.CreateSession(ctx, "b", ""); err != nil {
		t.Fatalf("CreateSession b: %v", err)
	}

	sessions, err := gw.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions (main, a, b), got %d", len(sessions))
	}
}

func TestPolicyCRUD(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	rule := model.PolicyRule{Path: "/work", Access: model.AccessReadOnly, Recursive: true}
	if err := gw.AddPolicy(ctx, rule); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}
	if err := gw.AddPolicy(ctx, model.PolicyRule{Path: "/bad", Access: "nope"}); err == nil {
		t.Fatal("expected invalid access level to be rejected")
	}

	rules, err := gw.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 policy rule, got %d", len(rules))
	}

	if err := gw.DeletePolicy(ctx, rules[0].ID); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	rules, err = gw.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies after delete: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected 0 policy rules after delete, got %d", len(rules))
	}
}

func TestListToolsAndToggle(t *testing.T) {
	gw, cfgPath := newTestGateway(t)

	tools := gw.ListTools()
	if len(tools) == 0 {
		t.Fatal("expected a non-empty tool catalog")
	}
	for _, ts := range tools {
		if !ts.Enabled {
			t.Fatalf("tool %s should start enabled", ts.Name)
		}
	}

	if err := gw.ToggleTool("shell_run", false); err != nil {
		t.Fatalf("ToggleTool disable: %v", err)
	}
	for _, ts := range gw.ListTools() {
		if ts.Name == "shell_run" && ts.Enabled {
			t.Fatal("shell_run should be disabled")
		}
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("expected config to be persisted: %v", err)
	}

	if err := gw.ToggleTool("shell_run", true); err != nil {
		t.Fatalf("ToggleTool re-enable: %v", err)
	}
	for _, ts := range gw.ListTools() {
		if ts.Name == "shell_run" && !ts.Enabled {
			t.Fatal("shell_run should be re-enabled")
		}
	}

	if err := gw.ToggleTool("no_such_tool", false); err == nil {
		t.Fatal("expected unknown tool to be rejected")
	}
}

func TestUpdateConfigPersists(t *testing.T) {
	gw, cfgPath := newTestGateway(t)

	cfg := gw.Config()
	cfg.Agent.Name = "Batchismo-test"
	cfg.Sandbox.MaxConcurrentSubagents = 7
	if err := gw.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	reloaded, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if reloaded.Agent.Name != "Batchismo-test" || reloaded.Sandbox.MaxConcurrentSubagents != 7 {
		t.Fatalf("persisted config did not round-trip: %+v", reloaded)
	}
	if gw.Config().Agent.Name != "Batchismo-test" {
		t.Fatal("in-memory config should reflect the update immediately")
	}
}

func TestListSubagentsEmpty(t *testing.T) {
	gw, _ := newTestGateway(t)
	infos, err := gw.ListSubagents(context.Background(), "")
	if err != nil {
		t.Fatalf("ListSubagents: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no subagents yet, got %d", len(infos))
	}
}

func TestCancelTurnNoActiveTurn(t *testing.T) {
	gw, _ := newTestGateway(t)
	if err := gw.CancelTurn("no-such-session", "test"); err == nil {
		t.Fatal("expected cancelling a session with no active turn to fail")
	}
}
