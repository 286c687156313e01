// Package session implements the gateway's SessionManager (spec.md §4.6):
// it maps session keys to session state, enforces at most one live turn
// per session, queues further send_message calls for a busy session in
// FIFO order, and pumps each turn's agent<->gateway traffic into the
// Store, the EventBus, and the GatewayBridge's request handlers. The
// per-session FIFO queue generalizes the teacher's
// internal/process.CommandQueue lane pattern (one active task per lane,
// explicit enqueue/drain) from a generic task queue to the turn-shaped
// unit of work described here: at most one turn active per session, with
// further arrivals parked until it finishes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/eventbus"
	"github.com/batchismo/core/internal/ipc"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/store"
	"github.com/batchismo/core/internal/supervisor"
	"github.com/batchismo/core/internal/telemetry"
	"github.com/batchismo/core/internal/worker"
	"github.com/batchismo/core/internal/workspace"
	"go.opentelemetry.io/otel/trace"
)

// Config wires a Manager's collaborators.
type Config struct {
	Store                  store.Store
	Bus                    *eventbus.Bus
	Supervisor             *supervisor.Supervisor
	Registry               *worker.Registry
	MaxConcurrentSubagents int
	Logger                 *slog.Logger
	Tracer                 *telemetry.Tracer
	Metrics                *telemetry.Metrics

	// Workspace supplies the content of the workspace files (workspace.Files)
	// appended to a main session's system prompt (spec.md §6). Nil omits it (worker
	// sessions never receive it: their prompt is the assigned task alone).
	Workspace *workspace.Store
}

// request is one queued unit of work for a session's lane: either a new
// user message (main sessions) or a freshly spawned worker's task kickoff.
type request struct {
	content string
	resultC chan turnResult
}

type turnResult struct {
	message *model.Message
	err     error
}

// lane serializes turns for a single session, FIFO.
type lane struct {
	mu     sync.Mutex
	queue  []*request
	active bool
}

// Manager owns every session's lane and is the sole caller of Supervisor.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	lanes map[string]*lane

	answersMu sync.Mutex
	answers   map[string]chan string // question_id -> answer delivery

	disabledMu    sync.RWMutex
	disabledTools []string
}

// New builds a Manager. MaxConcurrentSubagents defaults to 4 if unset.
func New(cfg Config) *Manager {
	if cfg.MaxConcurrentSubagents <= 0 {
		cfg.MaxConcurrentSubagents = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		lanes:   map[string]*lane{},
		answers: map[string]chan string{},
	}
}

// SetDisabledTools replaces the tool names excluded from the next turn
// onward (spec.md §4.8: "Disabled tools are never offered to the model").
// The command surface's ToggleTool calls this after persisting config, so
// the change is visible here without the Manager holding its own config
// copy or reaching back into the gateway package.
func (m *Manager) SetDisabledTools(names []string) {
	m.disabledMu.Lock()
	defer m.disabledMu.Unlock()
	m.disabledTools = append([]string(nil), names...)
}

func (m *Manager) disabledToolsSnapshot() []string {
	m.disabledMu.RLock()
	defer m.disabledMu.RUnlock()
	if len(m.disabledTools) == 0 {
		return nil
	}
	return append([]string(nil), m.disabledTools...)
}

// Cancel terminates the live turn for sessionID, if one is running. Used by
// the command surface's cancel_turn; the worker_cancel bridge op calls
// Supervisor.Cancel directly.
func (m *Manager) Cancel(sessionID, reason string) error {
	return m.cfg.Supervisor.Cancel(sessionID, reason)
}

func (m *Manager) laneFor(sessionID string) *lane {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[sessionID]
	if !ok {
		l = &lane{}
		m.lanes[sessionID] = l
	}
	return l
}

// SendMessage enqueues content for key's session. The session must already
// exist (it is created by the caller via CreateSession); a failed lookup is
// returned as an error. It blocks until the turn this request belongs to
// finalizes.
func (m *Manager) SendMessage(ctx context.Context, key, content string) (*model.Message, error) {
	sess, err := m.cfg.Store.GetSessionByKey(ctx, key)
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "lookup session %q", key)
	}
	return m.enqueueAndWait(ctx, sess, content)
}

func (m *Manager) enqueueAndWait(ctx context.Context, sess *model.Session, content string) (*model.Message, error) {
	req := &request{content: content, resultC: make(chan turnResult, 1)}
	l := m.laneFor(sess.ID)

	l.mu.Lock()
	l.queue = append(l.queue, req)
	shouldStart := !l.active
	if shouldStart {
		l.active = true
	}
	l.mu.Unlock()

	if shouldStart {
		go m.pump(sess, l)
	}

	select {
	case res := <-req.resultC:
		return res.message, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pump drains sess's lane one turn at a time until the queue is empty.
func (m *Manager) pump(sess *model.Session, l *lane) {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.active = false
			l.mu.Unlock()
			return
		}
		req := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		msg, err := m.runTurn(context.Background(), sess, req.content)
		req.resultC <- turnResult{message: msg, err: err}
	}
}

// runTurn executes exactly one turn for sess: it persists the new user
// message (main sessions only; worker sessions derive their opening turn
// from Session.Task, carried in Init), spawns the child via Supervisor,
// and demultiplexes the resulting frame stream until TurnComplete or
// Error.
func (m *Manager) runTurn(ctx context.Context, sess *model.Session, content string) (*model.Message, error) {
	history, err := m.cfg.Store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "load history for %s", sess.ID)
	}

	if sess.Kind == model.SessionMain && content != "" {
		if _, err := m.cfg.Store.AppendUserMessage(ctx, sess.ID, content); err != nil {
			return nil, corerr.Wrap(corerr.StoreError, err, "append user message")
		}
	}

	policies, err := m.cfg.Store.ListPolicies(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "load policies")
	}
	if sess.Kind == model.SessionWorker {
		policies = restrictToParent(policies)
	}

	turnCtx := ctx
	var endSpan func()
	if m.cfg.Tracer != nil {
		var span trace.Span
		turnCtx, span = m.cfg.Tracer.StartTurn(ctx, sess.ID, string(sess.Kind))
		endSpan = func() { span.End() }
	}
	start := time.Now()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.TurnsStarted.WithLabelValues(string(sess.Kind)).Inc()
		m.cfg.Metrics.ActiveSessions.Inc()
	}
	defer func() {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.ActiveSessions.Dec()
		}
		if endSpan != nil {
			endSpan()
		}
	}()

	handle, err := m.cfg.Supervisor.StartTurn(turnCtx, sess, history, policies, m.disabledToolsSnapshot(), m.systemPromptFor(sess))
	if err != nil {
		m.recordOutcome(sess, start, "spawn_error")
		return nil, corerr.Wrap(corerr.Internal, err, "start turn for %s", sess.ID)
	}

	if sess.Kind == model.SessionMain && content != "" {
		if err := handle.Conn.Send(&ipc.Envelope{Kind: ipc.KindUserMessage, Content: content}); err != nil {
			_ = handle.Cancel("failed to deliver user message")
			m.recordOutcome(sess, start, "protocol_error")
			return nil, corerr.Wrap(corerr.ProtocolError, err, "send user message")
		}
	}

	msg, tokIn, tokOut, turnErr := m.demux(turnCtx, sess, handle)
	handle.MarkComplete()

	if turnErr != nil {
		m.recordOutcome(sess, start, string(corerr.KindOf(turnErr)))
		m.publishWorkerTransition(sess, model.SubagentFailed, "")
		return nil, turnErr
	}

	if err := m.cfg.Store.FinalizeTurn(ctx, sess.ID, msg, tokIn, tokOut); err != nil {
		m.recordOutcome(sess, start, "store_error")
		return nil, corerr.Wrap(corerr.StoreError, err, "finalize turn")
	}
	m.recordOutcome(sess, start, "")
	m.cfg.Bus.Publish(model.Event{Type: model.EventTurnComplete, SessionID: sess.ID, CreatedAt: time.Now(), Message: msg, TokenIn: int(tokIn), TokenOut: int(tokOut)})
	m.publishWorkerTransition(sess, model.SubagentCompleted, msg.Content)
	return msg, nil
}

func (m *Manager) recordOutcome(sess *model.Session, start time.Time, outcome string) {
	if m.cfg.Metrics == nil {
		return
	}
	m.cfg.Metrics.TurnDuration.WithLabelValues(string(sess.Kind), outcome).Observe(time.Since(start).Seconds())
	m.cfg.Metrics.TurnOutcome.WithLabelValues(outcome).Inc()
}

func (m *Manager) publishWorkerTransition(sess *model.Session, state model.SubagentState, summary string) {
	if sess.Kind != model.SessionWorker || m.cfg.Registry == nil {
		return
	}
	_ = m.cfg.Registry.Transition(context.Background(), sess.ID, state)
	info, ok := m.cfg.Registry.Get(sess.ID)
	if !ok {
		return
	}
	info.Summary = summary
	m.cfg.Bus.Publish(model.Event{Type: model.EventWorkerTransition, SessionID: sess.ID, CreatedAt: time.Now(), Subagent: &info})
}

// demux reads envelopes off handle.Conn until a terminal frame, fanning
// TextDelta/ToolCallStart/ToolCallResult to the bus and routing
// BridgeRequest envelopes to handleBridgeRequest. It returns the
// finalized assistant message and token counts, or an error.
func (m *Manager) demux(ctx context.Context, sess *model.Session, handle *supervisor.TurnHandle) (*model.Message, int64, int64, error) {
	for {
		env, err := handle.Conn.Recv()
		if err != nil {
			select {
			case <-handle.Conn.Done():
				return nil, 0, 0, corerr.New(corerr.ProtocolError, "agent connection closed before TurnComplete")
			default:
			}
			return nil, 0, 0, corerr.Wrap(corerr.ProtocolError, err, "read agent frame")
		}

		switch env.Kind {
		case ipc.KindTextDelta:
			m.cfg.Bus.Publish(model.Event{Type: model.EventTextDelta, SessionID: sess.ID, CreatedAt: time.Now(), Text: env.Content})
		case ipc.KindToolCallStart:
			m.cfg.Bus.Publish(model.Event{Type: model.EventToolCallStart, SessionID: sess.ID, CreatedAt: time.Now(), ToolCall: env.ToolCall})
		case ipc.KindToolCallResult:
			m.cfg.Bus.Publish(model.Event{Type: model.EventToolCallResult, SessionID: sess.ID, CreatedAt: time.Now(), ToolResult: env.ToolResult})
			if m.cfg.Metrics != nil && env.ToolCall != nil {
				result := "ok"
				if env.ToolResult != nil && env.ToolResult.IsError {
					result = "error"
				}
				m.cfg.Metrics.ToolCalls.WithLabelValues(env.ToolCall.Name, result).Inc()
			}
		case ipc.KindProgress, ipc.KindQuestion:
			m.cfg.Bus.Publish(model.Event{Type: model.EventAuditLog, SessionID: sess.ID, CreatedAt: time.Now(), Note: progressOrQuestionNote(env)})
		case ipc.KindBridgeRequest:
			go m.handleBridgeRequest(ctx, sess, handle, env)
		case ipc.KindTurnComplete:
			return env.Message, int64(env.TokenInput), int64(env.TokenOutput), nil
		case ipc.KindError:
			m.cfg.Bus.Publish(model.Event{Type: model.EventError, SessionID: sess.ID, CreatedAt: time.Now(), ErrorMsg: env.ErrorMessage})
			return nil, 0, 0, corerr.New(corerr.UpstreamError, "%s", env.ErrorMessage)
		default:
			_ = handle.Cancel("protocol error")
			return nil, 0, 0, corerr.New(corerr.ProtocolError, "unexpected envelope kind %q", env.Kind)
		}
	}
}

func progressOrQuestionNote(env *ipc.Envelope) string {
	if env.Kind == ipc.KindProgress {
		return fmt.Sprintf("progress: %s", env.Summary)
	}
	return fmt.Sprintf("question: %s", env.Question)
}

// handleBridgeRequest services one BridgeRequest envelope from the agent,
// answering over the same Conn with a correlated BridgeResponse.
func (m *Manager) handleBridgeRequest(ctx context.Context, sess *model.Session, handle *supervisor.TurnHandle, env *ipc.Envelope) {
	payload, bridgeErr := m.dispatchBridgeOp(ctx, sess, env)
	resp := &ipc.Envelope{Kind: ipc.KindBridgeResponse, CorrelationID: env.CorrelationID}
	if bridgeErr != nil {
		resp.BridgeError = bridgeErr.Error()
	} else {
		resp.BridgePayload = payload
	}
	_ = handle.Conn.Send(resp)
}

func (m *Manager) dispatchBridgeOp(ctx context.Context, sess *model.Session, env *ipc.Envelope) ([]byte, error) {
	switch env.BridgeOp {
	case "spawn_worker":
		return m.bridgeSpawnWorker(ctx, sess, env.BridgePayload)
	case "worker_status":
		return m.bridgeWorkerStatus(env.BridgePayload)
	case "worker_pause":
		return m.bridgeWorkerTransition(ctx, env.BridgePayload, model.SubagentPaused)
	case "worker_resume":
		return m.bridgeWorkerResume(ctx, env.BridgePayload)
	case "worker_instruct":
		return m.bridgeWorkerInstruct(env.BridgePayload)
	case "worker_cancel":
		return m.bridgeWorkerCancel(env.BridgePayload)
	case "answer_worker":
		return m.bridgeAnswerWorker(env.BridgePayload)
	case "ask_orchestrator":
		return m.bridgeAskOrchestrator(ctx, sess, env.BridgePayload)
	default:
		return nil, corerr.New(corerr.InvalidInput, "unknown bridge op %q", env.BridgeOp)
	}
}

func (m *Manager) systemPromptFor(sess *model.Session) string {
	if sess.Kind == model.SessionWorker {
		return "You are a worker session. Complete the assigned task using the tools available to you."
	}
	base := "You are Batchismo, an agent that can read and write files, run shell commands, fetch web pages, and spawn worker sessions to parallelize work, subject to the active path policy."
	if m.cfg.Workspace == nil {
		return base
	}
	return base + workspace.SystemPromptSections(m.cfg.Workspace.Snapshot())
}

// restrictToParent returns policies unchanged: a worker turn receives the
// full stored rule set, including any rules added through spawn_worker's
// `paths` argument (bridgeSpawnWorker stores those with PutPolicy like any
// other rule). No subset of the parent's rules is computed.
func restrictToParent(policies []model.PolicyRule) []model.PolicyRule {
	return policies
}
