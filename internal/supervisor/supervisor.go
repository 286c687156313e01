// Package supervisor owns the lifecycle of per-turn agent child processes:
// spawning the agent binary, accepting its IPC connection, enforcing the
// turn deadline, and terminating on cancellation or timeout. It generalizes
// the teacher's internal/process.CommandQueue lane-serialization idiom (one
// active task per lane, explicit enqueue/drain) from in-process goroutines
// to out-of-process children: here the "lane" is a single turn and the
// "task" is a running child bound to one IPC connection.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/ipc"
	"github.com/batchismo/core/internal/model"
)

// DefaultGracePeriod is how long cancel() waits for the child to exit on
// its own after a Cancel envelope before being killed outright.
const DefaultGracePeriod = 2 * time.Second

// DefaultTurnDeadline bounds a single turn; missing TurnComplete within
// this window terminates the child.
const DefaultTurnDeadline = 10 * time.Minute

// TurnHandle represents one spawned agent process bound to its IPC
// connection. Callers read frames via Conn and must call MarkComplete once
// a TurnComplete/Error envelope is observed, disarming the deadline timer.
type TurnHandle struct {
	SessionID string
	Kind      model.SessionKind
	Conn      *ipc.Conn

	cmd        *exec.Cmd
	listener   *ipc.Listener
	deadline   *time.Timer
	grace      time.Duration
	logger     *slog.Logger
	doneOnce   sync.Once
	completeCh chan struct{}
}

// MarkComplete disarms the turn deadline. Idempotent.
func (h *TurnHandle) MarkComplete() {
	h.doneOnce.Do(func() {
		h.deadline.Stop()
		close(h.completeCh)
	})
}

// Cancel sends a Cancel envelope, waits up to the grace period for the
// child to exit, then kills it outright.
func (h *TurnHandle) Cancel(reason string) error {
	_ = h.Conn.Send(&ipc.Envelope{Kind: ipc.KindCancel, Reason: reason})

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(h.grace):
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		<-done
	}
	return h.cleanup()
}

func (h *TurnHandle) cleanup() error {
	h.MarkComplete()
	_ = h.Conn.Close()
	return h.listener.Close()
}

// Wait blocks until the child exits, returning its exit error (if any).
func (h *TurnHandle) Wait() error {
	return h.cmd.Wait()
}

// Config configures where the agent binary lives and how long its turns
// may run.
type Config struct {
	AgentBinaryPath string
	DataRoot        string
	GracePeriod     time.Duration
	TurnDeadline    time.Duration
	MaxFrameSize    uint32
	Logger          *slog.Logger
}

// Supervisor spawns and tracks per-turn agent child processes.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	handles map[string]*TurnHandle
}

// New builds a Supervisor, resolving the agent binary relative to the
// current executable if AgentBinaryPath is a bare name (spec.md §4.5:
// "Spawns the agent binary co-located with the host executable").
func New(cfg Config) (*Supervisor, error) {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = DefaultTurnDeadline
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = ipc.DefaultMaxFrameSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !filepath.IsAbs(cfg.AgentBinaryPath) {
		exePath, err := os.Executable()
		if err == nil {
			cfg.AgentBinaryPath = filepath.Join(filepath.Dir(exePath), cfg.AgentBinaryPath)
		}
	}
	return &Supervisor{cfg: cfg, handles: map[string]*TurnHandle{}}, nil
}

// StartTurn spawns an agent child for session, binds its IPC address,
// accepts the single inbound connection, and sends Init. It resolves once
// the child connects and Init has been written; the caller is responsible
// for reading subsequent frames off the returned handle's Conn.
func (s *Supervisor) StartTurn(ctx context.Context, session *model.Session, history []model.Message, policies []model.PolicyRule, disabledTools []string, systemPrompt string) (*TurnHandle, error) {
	address := ipc.SessionAddress(s.cfg.DataRoot, session.ID)
	listener, err := ipc.Listen(address)
	if err != nil {
		return nil, corerr.Wrap(corerr.Internal, err, "bind ipc listener")
	}

	cmd := exec.CommandContext(ctx, s.cfg.AgentBinaryPath, "--session-address", address, "--session-kind", string(session.Kind))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = listener.Close()
		return nil, corerr.Wrap(corerr.Internal, err, "spawn agent process")
	}

	conn, err := listener.Accept(s.cfg.MaxFrameSize)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = listener.Close()
		return nil, corerr.Wrap(corerr.ProtocolError, err, "accept agent connection")
	}

	handle := &TurnHandle{
		SessionID:  session.ID,
		Kind:       session.Kind,
		Conn:       conn,
		cmd:        cmd,
		listener:   listener,
		grace:      s.cfg.GracePeriod,
		logger:     s.cfg.Logger,
		completeCh: make(chan struct{}),
	}

	if err := conn.Send(&ipc.Envelope{
		Kind:            ipc.KindInit,
		SessionID:       session.ID,
		SessionKind:     session.Kind,
		Model:           session.Model,
		ThinkingLevel:   session.ThinkingLevel,
		SystemPrompt:    systemPrompt,
		History:         history,
		PathPolicies:    policies,
		DisabledTools:   disabledTools,
		ParentSessionID: session.ParentSessionID,
		Task:            session.Task,
	}); err != nil {
		_ = handle.cleanup()
		return nil, corerr.Wrap(corerr.ProtocolError, err, "send init")
	}

	handle.deadline = time.AfterFunc(s.cfg.TurnDeadline, func() {
		s.cfg.Logger.Warn("turn deadline exceeded, terminating", "session_id", session.ID)
		_ = handle.Cancel("timeout")
	})

	s.mu.Lock()
	s.handles[session.ID] = handle
	s.mu.Unlock()

	go func() {
		<-handle.completeCh
		s.mu.Lock()
		delete(s.handles, session.ID)
		s.mu.Unlock()
	}()

	return handle, nil
}

// Handle returns the live turn handle for sessionID, if one exists. Used
// by the SessionManager to deliver Pause/Resume/Instruction/Answer
// frames to an in-flight worker's connection.
func (s *Supervisor) Handle(sessionID string) (*TurnHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[sessionID]
	return h, ok
}

// Cancel looks up the turn by session id and cancels it.
func (s *Supervisor) Cancel(sessionID, reason string) error {
	s.mu.Lock()
	handle, ok := s.handles[sessionID]
	s.mu.Unlock()
	if !ok {
		return corerr.New(corerr.InvalidInput, "no active turn for session %s", sessionID)
	}
	return handle.Cancel(reason)
}

// Shutdown cancels every outstanding turn, used at teardown (spec.md §6:
// "Teardown drains in-flight turns with a bounded timeout, then terminates
// children").
func (s *Supervisor) Shutdown(reason string) {
	s.mu.Lock()
	handles := make([]*TurnHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *TurnHandle) {
			defer wg.Done()
			_ = h.Cancel(reason)
		}(h)
	}
	wg.Wait()
}
