// Bridge operation handlers: the gateway side of the GatewayBridge
// (spec.md §4.9). Each function here answers exactly one BridgeOp that a
// tool in internal/tool/bridge_tools.go issues from inside the agent
// process. Grounded on the same correlated-request idiom as
// internal/bridge itself (teacher's vsock pending-map pattern), just
// inverted: here the gateway is the responder, not the caller.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/ipc"
	"github.com/batchismo/core/internal/model"
	"github.com/google/uuid"
)

type spawnWorkerPayload struct {
	ParentSessionID string              `json:"parent_session_id"`
	Label           string              `json:"label"`
	Task            string              `json:"task"`
	Model           string              `json:"model"`
	Paths           []model.PolicyRule  `json:"paths"`
}

func (m *Manager) bridgeSpawnWorker(ctx context.Context, sess *model.Session, raw json.RawMessage) ([]byte, error) {
	var in spawnWorkerPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode spawn_worker payload")
	}
	if sess.Kind != model.SessionMain {
		return nil, corerr.New(corerr.PermissionDenied, "workers cannot spawn workers")
	}
	if m.cfg.Registry.RunningCount(sess.ID) >= m.cfg.MaxConcurrentSubagents {
		return nil, corerr.New(corerr.InvalidInput, "sandbox.max_concurrent_subagents (%d) reached", m.cfg.MaxConcurrentSubagents)
	}

	modelName := in.Model
	if modelName == "" {
		modelName = sess.Model
	}
	worker, err := m.cfg.Store.CreateWorkerSession(ctx, sess.ID, in.Task, modelName)
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "create worker session")
	}
	for _, rule := range in.Paths {
		if err := m.cfg.Store.PutPolicy(ctx, rule); err != nil {
			return nil, corerr.Wrap(corerr.StoreError, err, "persist worker path policy")
		}
	}

	info := &model.SubagentInfo{
		SessionID:       worker.ID,
		ParentSessionID: sess.ID,
		Label:           in.Label,
		Task:            in.Task,
		State:           model.SubagentRunning,
		StartedAt:       time.Now().UTC(),
	}
	if err := m.cfg.Registry.Register(ctx, info); err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "register worker")
	}

	// Kick off the worker's turn asynchronously: its own lane runs
	// independently of the orchestrator's.
	go func() {
		if _, err := m.enqueueAndWait(context.Background(), worker, in.Task); err != nil {
			m.cfg.Logger.Warn("worker turn failed", "session_id", worker.ID, "error", err)
		}
	}()

	return json.Marshal(info)
}

type workerSessionPayload struct {
	SessionID string `json:"session_id"`
}

func (m *Manager) bridgeWorkerStatus(raw json.RawMessage) ([]byte, error) {
	var in workerSessionPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode worker_status payload")
	}
	info, ok := m.cfg.Registry.Get(in.SessionID)
	if !ok {
		return nil, corerr.New(corerr.InvalidInput, "unknown worker session %s", in.SessionID)
	}
	return json.Marshal(info)
}

func (m *Manager) bridgeWorkerTransition(ctx context.Context, raw json.RawMessage, to model.SubagentState) ([]byte, error) {
	var in workerSessionPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode payload")
	}
	if err := m.cfg.Registry.Transition(ctx, in.SessionID, to); err != nil {
		return nil, err
	}
	if handle, ok := m.cfg.Supervisor.Handle(in.SessionID); ok && to == model.SubagentPaused {
		_ = handle.Conn.Send(&ipc.Envelope{Kind: ipc.KindPause})
	}
	return json.Marshal(map[string]string{"session_id": in.SessionID, "state": string(to)})
}

func (m *Manager) bridgeWorkerResume(ctx context.Context, raw json.RawMessage) ([]byte, error) {
	var in workerSessionPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode worker_resume payload")
	}
	if err := m.cfg.Registry.Transition(ctx, in.SessionID, model.SubagentRunning); err != nil {
		return nil, err
	}
	if handle, ok := m.cfg.Supervisor.Handle(in.SessionID); ok {
		_ = handle.Conn.Send(&ipc.Envelope{Kind: ipc.KindResume})
	}
	return json.Marshal(map[string]string{"session_id": in.SessionID, "state": string(model.SubagentRunning)})
}

type workerInstructPayload struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

func (m *Manager) bridgeWorkerInstruct(raw json.RawMessage) ([]byte, error) {
	var in workerInstructPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode worker_instruct payload")
	}
	handle, ok := m.cfg.Supervisor.Handle(in.SessionID)
	if !ok {
		return nil, corerr.New(corerr.InvalidInput, "worker %s has no live turn", in.SessionID)
	}
	if err := handle.Conn.Send(&ipc.Envelope{Kind: ipc.KindInstruction, Content: in.Content}); err != nil {
		return nil, corerr.Wrap(corerr.ProtocolError, err, "send instruction")
	}
	return json.Marshal(map[string]string{"session_id": in.SessionID, "status": "delivered"})
}

type workerCancelPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (m *Manager) bridgeWorkerCancel(raw json.RawMessage) ([]byte, error) {
	var in workerCancelPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode worker_cancel payload")
	}
	if err := m.cfg.Supervisor.Cancel(in.SessionID, in.Reason); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"session_id": in.SessionID, "status": "cancelled"})
}

type answerWorkerPayload struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// bridgeAnswerWorker routes an orchestrator's answer either to a pending
// blocking ask_orchestrator wait (bridgeAskOrchestrator below) or, for a
// question a non-blocking ask_orchestrator recorded in the Registry, as an
// Answer frame sent directly to the worker's connection.
func (m *Manager) bridgeAnswerWorker(raw json.RawMessage) ([]byte, error) {
	var in answerWorkerPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode answer_worker payload")
	}

	m.answersMu.Lock()
	ch, ok := m.answers[in.QuestionID]
	if ok {
		delete(m.answers, in.QuestionID)
	}
	m.answersMu.Unlock()

	if ok {
		ch <- in.Answer
		close(ch)
		return json.Marshal(map[string]string{"question_id": in.QuestionID, "status": "delivered"})
	}

	q, ok := m.cfg.Registry.TakeQuestion(in.QuestionID)
	if !ok {
		return nil, corerr.New(corerr.InvalidInput, "no pending question %s", in.QuestionID)
	}
	handle, ok := m.cfg.Supervisor.Handle(q.WorkerSessionID)
	if !ok {
		return nil, corerr.New(corerr.InvalidInput, "worker %s has no live turn", q.WorkerSessionID)
	}
	if err := handle.Conn.Send(&ipc.Envelope{Kind: ipc.KindAnswer, QuestionID: in.QuestionID, Answer: in.Answer}); err != nil {
		return nil, corerr.Wrap(corerr.ProtocolError, err, "send answer")
	}
	return json.Marshal(map[string]string{"question_id": in.QuestionID, "status": "delivered"})
}

type askOrchestratorPayload struct {
	WorkerSessionID string `json:"worker_session_id"`
	Question        string `json:"question"`
	Context         string `json:"context"`
	Blocking        bool   `json:"blocking"`
}

// bridgeAskOrchestrator records a pending question, surfaces it on the
// bus for any human-facing consumer, and — when blocking — waits for
// answer_worker to deliver an answer for this question id (unbounded,
// matching the tool's timeout=0 bridge call) or for ctx cancellation.
func (m *Manager) bridgeAskOrchestrator(ctx context.Context, sess *model.Session, raw json.RawMessage) ([]byte, error) {
	var in askOrchestratorPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, corerr.Wrap(corerr.InvalidInput, err, "decode ask_orchestrator payload")
	}
	questionID := uuid.NewString()
	m.cfg.Registry.PutQuestion(&model.PendingQuestion{
		QuestionID:      questionID,
		WorkerSessionID: sess.ID,
		Question:        in.Question,
		Context:         in.Context,
		Blocking:        in.Blocking,
	})
	_ = m.cfg.Registry.Transition(ctx, sess.ID, model.SubagentWaitingForAnswer)
	m.cfg.Bus.Publish(model.Event{
		Type:      model.EventAuditLog,
		SessionID: sess.ParentSessionID,
		CreatedAt: time.Now(),
		Note:      "worker " + sess.ID + " asks: " + in.Question,
	})

	if !in.Blocking {
		return json.Marshal(map[string]string{"question_id": questionID, "status": "pending"})
	}

	answerCh := make(chan string, 1)
	m.answersMu.Lock()
	m.answers[questionID] = answerCh
	m.answersMu.Unlock()

	select {
	case answer := <-answerCh:
		_ = m.cfg.Registry.Transition(ctx, sess.ID, model.SubagentRunning)
		return json.Marshal(map[string]string{"question_id": questionID, "answer": answer})
	case <-ctx.Done():
		return nil, corerr.Wrap(corerr.Cancelled, ctx.Err(), "ask_orchestrator cancelled")
	}
}
