package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/batchismo/core/internal/eventbus"
	"github.com/batchismo/core/internal/ipc"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/store"
	"github.com/batchismo/core/internal/supervisor"
	"github.com/batchismo/core/internal/worker"
	"github.com/batchismo/core/internal/workspace"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	reg, err := worker.New(ctx, st)
	require.NoError(t, err)
	sup, err := supervisor.New(supervisor.Config{AgentBinaryPath: "/does/not/matter"})
	require.NoError(t, err)

	m := New(Config{
		Store:      st,
		Bus:        eventbus.New(nil),
		Supervisor: sup,
		Registry:   reg,
	})
	return m, st
}

func TestNewAppliesManagerDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	require.Equal(t, 4, m.cfg.MaxConcurrentSubagents)
	require.NotNil(t, m.cfg.Logger)
}

func TestSetDisabledToolsRoundTripsThroughSnapshot(t *testing.T) {
	m, _ := newTestManager(t)
	require.Nil(t, m.disabledToolsSnapshot())

	m.SetDisabledTools([]string{"shell_run", "web_fetch"})
	require.Equal(t, []string{"shell_run", "web_fetch"}, m.disabledToolsSnapshot())

	m.SetDisabledTools(nil)
	require.Nil(t, m.disabledToolsSnapshot(), "clearing the list must not leave a stale empty-but-non-nil slice behind")
}

func TestSetDisabledToolsSnapshotIsIndependentOfCallerSlice(t *testing.T) {
	m, _ := newTestManager(t)
	names := []string{"shell_run"}
	m.SetDisabledTools(names)
	names[0] = "mutated"

	require.Equal(t, []string{"shell_run"}, m.disabledToolsSnapshot(), "Manager must copy the slice, not alias the caller's")
}

func TestSystemPromptForWorkerIgnoresWorkspace(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	ws, err := workspace.Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, ws.Write("IDENTITY.md", "I am Batchismo."))
	m.cfg.Workspace = ws

	prompt := m.systemPromptFor(&model.Session{Kind: model.SessionWorker})
	require.NotContains(t, prompt, "IDENTITY.md")
	require.Contains(t, prompt, "worker session")
}

func TestSystemPromptForMainAppendsWorkspaceSections(t *testing.T) {
	m, _ := newTestManager(t)
	dir := t.TempDir()
	ws, err := workspace.Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, ws.Write("IDENTITY.md", "I am Batchismo."))
	m.cfg.Workspace = ws

	prompt := m.systemPromptFor(&model.Session{Kind: model.SessionMain})
	require.Contains(t, prompt, "I am Batchismo.")
}

func TestSystemPromptForMainWithoutWorkspaceOmitsSections(t *testing.T) {
	m, _ := newTestManager(t)
	prompt := m.systemPromptFor(&model.Session{Kind: model.SessionMain})
	require.Contains(t, prompt, "Batchismo")
	require.NotContains(t, prompt, "#")
}

func TestRestrictToParentIsPassthrough(t *testing.T) {
	rules := []model.PolicyRule{{ID: "rule-1", Path: "/home/user"}}
	require.Equal(t, rules, restrictToParent(rules))
}

func TestDispatchBridgeOpRejectsUnknownOp(t *testing.T) {
	m, _ := newTestManager(t)
	sess := &model.Session{ID: "session-1", Kind: model.SessionMain}

	_, err := m.dispatchBridgeOp(context.Background(), sess, &ipc.Envelope{BridgeOp: "not_a_real_op"})
	require.Error(t, err)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestBridgeWorkerStatusRejectsUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	payload, err := m.bridgeWorkerStatus(mustJSON(t, workerSessionPayload{SessionID: "no-such-worker"}))
	require.Error(t, err)
	require.Nil(t, payload)
}

func TestBridgeWorkerCancelPropagatesSupervisorError(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.bridgeWorkerCancel(mustJSON(t, workerCancelPayload{SessionID: "no-such-worker", Reason: "test"}))
	require.Error(t, err)
}

func TestBridgeWorkerInstructRejectsWorkerWithNoLiveTurn(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.bridgeWorkerInstruct(mustJSON(t, workerInstructPayload{SessionID: "no-such-worker", Content: "keep going"}))
	require.Error(t, err)
}

func TestBridgeAskOrchestratorNonBlockingReturnsImmediately(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	sess, err := st.CreateWorkerSession(ctx, "main", "do the thing", "fake-model")
	require.NoError(t, err)
	require.NoError(t, m.cfg.Registry.Register(ctx, &model.SubagentInfo{SessionID: sess.ID, ParentSessionID: "main", State: model.SubagentRunning}))

	payload, err := m.bridgeAskOrchestrator(ctx, sess, mustJSON(t, askOrchestratorPayload{Question: "proceed?", Blocking: false}))
	require.NoError(t, err)
	require.Contains(t, string(payload), "pending")
}

func TestBridgeAnswerWorkerRejectsUnknownQuestion(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.bridgeAnswerWorker(mustJSON(t, answerWorkerPayload{QuestionID: "no-such-question", Answer: "yes"}))
	require.Error(t, err)
}

// TestBridgeAnswerWorkerConsumesPendingNonBlockingQuestion covers the other
// half of the non-blocking ask_orchestrator round trip (the agentloop-side
// resumption is covered by TestRunInjectsAnswerAsToolResultContent): once a
// worker's non-blocking question is recorded, answering it must take the
// pending entry exactly once — a live worker connection is outside this
// package's reach, so the first answer is expected to fail at the
// no-live-turn stage rather than the already-answered stage, and the second
// answer for the same question id must fail because TakeQuestion already
// consumed it.
func TestBridgeAnswerWorkerConsumesPendingNonBlockingQuestion(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	sess, err := st.CreateWorkerSession(ctx, "main", "investigate X", "fake-model")
	require.NoError(t, err)
	require.NoError(t, m.cfg.Registry.Register(ctx, &model.SubagentInfo{SessionID: sess.ID, ParentSessionID: "main", State: model.SubagentRunning}))

	payload, err := m.bridgeAskOrchestrator(ctx, sess, mustJSON(t, askOrchestratorPayload{Question: "proceed?", Blocking: false}))
	require.NoError(t, err)
	var pending map[string]string
	require.NoError(t, json.Unmarshal(payload, &pending))
	questionID := pending["question_id"]
	require.NotEmpty(t, questionID)

	_, err = m.bridgeAnswerWorker(mustJSON(t, answerWorkerPayload{QuestionID: questionID, Answer: "yes"}))
	require.Error(t, err, "no live turn is running for this worker in-process, so delivery must fail")

	_, err = m.bridgeAnswerWorker(mustJSON(t, answerWorkerPayload{QuestionID: questionID, Answer: "yes"}))
	require.Error(t, err, "TakeQuestion is destructive: a second answer for the same question id must also fail")
}
