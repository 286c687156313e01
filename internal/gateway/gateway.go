// Package gateway is the CommandSurface (spec.md §4.10): the small typed
// command API the shell drives, sitting on top of Store, EventBus, and the
// SessionManager. It plays the role the teacher's internal/gateway.Server
// plays for chat-transport commands, generalized from "parse and dispatch
// a slash command embedded in a chat message" to "expose every session,
// policy, tool, subagent, and config operation as a direct typed method" —
// there is no text command language here, only Go method calls.
// cmd/batchismo-gateway constructs a Gateway but no front end calls its
// methods yet.
package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/batchismo/core/internal/config"
	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/eventbus"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/session"
	"github.com/batchismo/core/internal/store"
	"github.com/batchismo/core/internal/tool"
	"github.com/batchismo/core/internal/worker"
)

// Gateway is the single process-wide instance per data root (spec.md §6
// "Process-wide state"). It owns nothing itself beyond the config file
// path; Store, Bus, Manager, and Registry are constructed by the caller in
// the initialization order spec.md §2 names and handed in here last.
type Gateway struct {
	Store    store.Store
	Bus      *eventbus.Bus
	Manager  *session.Manager
	Registry *worker.Registry

	configPath string
	cfgMu      sync.RWMutex
	cfg        *config.Config
}

// New builds a Gateway over already-constructed collaborators and an
// already-loaded cfg. configPath is where update_config persists changes.
func New(st store.Store, bus *eventbus.Bus, mgr *session.Manager, reg *worker.Registry, cfg *config.Config, configPath string) *Gateway {
	mgr.SetDisabledTools(cfg.Agent.DisabledTools)
	return &Gateway{Store: st, Bus: bus, Manager: mgr, Registry: reg, cfg: cfg, configPath: configPath}
}

// CreateSession creates a new main session under key with the given model
// (empty uses the configured default).
func (g *Gateway) CreateSession(ctx context.Context, key, modelName string) (*model.Session, error) {
	if key == "" {
		return nil, corerr.New(corerr.InvalidInput, "session key must not be empty")
	}
	if modelName == "" {
		modelName = g.Config().Agent.Model
	}
	sess, err := g.Store.CreateSession(ctx, key, modelName)
	if err != nil {
		if err == store.ErrConflictingKey {
			return nil, corerr.Wrap(corerr.InvalidInput, err, "session key %q already exists", key)
		}
		return nil, corerr.Wrap(corerr.StoreError, err, "create session %q", key)
	}
	return sess, nil
}

// GetSession returns a session by key.
func (g *Gateway) GetSession(ctx context.Context, key string) (*model.Session, error) {
	sess, err := g.Store.GetSessionByKey(ctx, key)
	if err != nil {
		return nil, notFoundOr(err, "session %q", key)
	}
	return sess, nil
}

// ListSessions returns every session, ordered by creation time.
func (g *Gateway) ListSessions(ctx context.Context) ([]*model.Session, error) {
	sessions, err := g.Store.ListSessions(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "list sessions")
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return sessions, nil
}

// SwitchSession is a read-only convenience identical to GetSession: the
// command surface has no separate "current session" concept of its own,
// the shell tracks that locally and passes the key on every call.
func (g *Gateway) SwitchSession(ctx context.Context, key string) (*model.Session, error) {
	return g.GetSession(ctx, key)
}

// DeleteSession removes a non-main session. Deleting "main" is rejected by
// the store (spec.md §3: sessions are "never destroyed by the core except
// on explicit delete (protecting main)").
func (g *Gateway) DeleteSession(ctx context.Context, id string) error {
	if err := g.Store.DeleteSession(ctx, id); err != nil {
		if err == store.ErrBusy {
			return corerr.Wrap(corerr.InvalidInput, err, "cannot delete the main session")
		}
		return notFoundOr(err, "session %s", id)
	}
	return nil
}

// SendMessage enqueues content for key's session, blocking until the turn
// finalizes or ctx is cancelled (spec.md §4.6).
func (g *Gateway) SendMessage(ctx context.Context, key, content string) (*model.Message, error) {
	if content == "" {
		return nil, corerr.New(corerr.InvalidInput, "message content must not be empty")
	}
	return g.Manager.SendMessage(ctx, key, content)
}

// GetHistory returns every message for a session key, in order.
func (g *Gateway) GetHistory(ctx context.Context, key string) ([]*model.Message, error) {
	sess, err := g.Store.GetSessionByKey(ctx, key)
	if err != nil {
		return nil, notFoundOr(err, "session %q", key)
	}
	msgs, err := g.Store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "list messages for %q", key)
	}
	return msgs, nil
}

// ListPolicies returns the full path-policy rule set.
func (g *Gateway) ListPolicies(ctx context.Context) ([]model.PolicyRule, error) {
	rules, err := g.Store.ListPolicies(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "list policies")
	}
	return rules, nil
}

// AddPolicy persists rule (idempotent on (path, access, recursive)).
func (g *Gateway) AddPolicy(ctx context.Context, rule model.PolicyRule) error {
	if rule.Path == "" {
		return corerr.New(corerr.InvalidInput, "policy path must not be empty")
	}
	switch rule.Access {
	case model.AccessReadOnly, model.AccessReadWrite, model.AccessWriteOnly:
	default:
		return corerr.New(corerr.InvalidInput, "unknown access level %q", rule.Access)
	}
	if err := g.Store.PutPolicy(ctx, rule); err != nil {
		return corerr.Wrap(corerr.StoreError, err, "put policy")
	}
	return nil
}

// DeletePolicy removes a rule by id.
func (g *Gateway) DeletePolicy(ctx context.Context, id string) error {
	if err := g.Store.DeletePolicy(ctx, id); err != nil {
		return corerr.Wrap(corerr.StoreError, err, "delete policy %s", id)
	}
	return nil
}

// ListTools returns the static tool catalog, each entry annotated with
// whether the configured agent.disabled_tools set currently refuses it.
func (g *Gateway) ListTools() []ToolStatus {
	disabled := g.disabledSet()
	catalog := tool.Catalog()
	out := make([]ToolStatus, len(catalog))
	for i, d := range catalog {
		out[i] = ToolStatus{Descriptor: d, Enabled: !disabled[d.Name]}
	}
	return out
}

// ToolStatus pairs a tool.Descriptor with its current enabled state.
type ToolStatus struct {
	tool.Descriptor
	Enabled bool `json:"enabled"`
}

// ToggleTool enables or disables name by rewriting agent.disabled_tools
// and persisting the config (spec.md §4.8: "Disabled tools are never
// offered to the model"). Takes effect on the next turn; path-policy
// snapshots and tool sets are both copied at Init and immutable mid-turn.
func (g *Gateway) ToggleTool(name string, enabled bool) error {
	found := false
	for _, d := range tool.Catalog() {
		if d.Name == name {
			found = true
			break
		}
	}
	if !found {
		return corerr.New(corerr.InvalidInput, "unknown tool %q", name)
	}

	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()
	disabled := make([]string, 0, len(g.cfg.Agent.DisabledTools)+1)
	for _, existing := range g.cfg.Agent.DisabledTools {
		if existing != name {
			disabled = append(disabled, existing)
		}
	}
	if !enabled {
		disabled = append(disabled, name)
	}
	g.cfg.Agent.DisabledTools = disabled
	if err := g.persistLocked(); err != nil {
		return err
	}
	g.Manager.SetDisabledTools(disabled)
	return nil
}

func (g *Gateway) disabledSet() map[string]bool {
	g.cfgMu.RLock()
	defer g.cfgMu.RUnlock()
	out := make(map[string]bool, len(g.cfg.Agent.DisabledTools))
	for _, name := range g.cfg.Agent.DisabledTools {
		out[name] = true
	}
	return out
}

// Config returns a copy of the current configuration.
func (g *Gateway) Config() config.Config {
	g.cfgMu.RLock()
	defer g.cfgMu.RUnlock()
	return *g.cfg
}

// UpdateConfig replaces the live configuration and persists it to disk.
func (g *Gateway) UpdateConfig(cfg config.Config) error {
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()
	g.cfg = &cfg
	if err := g.persistLocked(); err != nil {
		return err
	}
	g.Manager.SetDisabledTools(cfg.Agent.DisabledTools)
	return nil
}

func (g *Gateway) persistLocked() error {
	if g.configPath == "" {
		return nil
	}
	if err := config.Save(g.cfg, g.configPath); err != nil {
		return corerr.Wrap(corerr.Internal, err, "persist config")
	}
	return nil
}

// ListSubagents returns worker records, optionally filtered by parent.
func (g *Gateway) ListSubagents(ctx context.Context, parentSessionID string) ([]*model.SubagentInfo, error) {
	infos, err := g.Store.ListSubagents(ctx, store.SubagentFilter{ParentSessionID: parentSessionID})
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "list subagents")
	}
	return infos, nil
}

// CancelTurn cancels the live turn for a session (orchestrator or worker),
// delegating to the Manager/Supervisor; non-transactional (spec.md §9 open
// question (b)): any tool side effect that completed before cancellation
// is not rolled back.
func (g *Gateway) CancelTurn(sessionID, reason string) error {
	return g.Manager.Cancel(sessionID, reason)
}

func notFoundOr(err error, format string, args ...any) error {
	if err == store.ErrNotFound {
		return corerr.Wrap(corerr.InvalidInput, err, format, args...)
	}
	return corerr.Wrap(corerr.StoreError, err, format, args...)
}
