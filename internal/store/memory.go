package store

import (
	"context"
	"sync"
	"time"

	"github.com/batchismo/core/internal/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by fast unit tests, following the
// teacher's MemoryStore pattern: per-session write locks, and sessions are
// cloned on read so callers cannot mutate them. ListMessages copies the
// slice but returns the stored *Message pointers themselves.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*model.Session
	byKey     map[string]string
	messages  map[string][]*model.Message
	policies  map[string]model.PolicyRule
	subagents map[string]*model.SubagentInfo
	writeLock map[string]*sync.Mutex
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  map[string]*model.Session{},
		byKey:     map[string]string{},
		messages:  map[string][]*model.Message{},
		policies:  map[string]model.PolicyRule{},
		subagents: map[string]*model.SubagentInfo{},
		writeLock: map[string]*sync.Mutex{},
	}
}

func cloneSession(s *model.Session) *model.Session {
	cp := *s
	return &cp
}

func (m *MemoryStore) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.writeLock[id]
	if !ok {
		l = &sync.Mutex{}
		m.writeLock[id] = l
	}
	return l
}

func (m *MemoryStore) CreateSession(ctx context.Context, key, modelName string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[key]; exists {
		return nil, ErrConflictingKey
	}
	now := time.Now().UTC()
	sess := &model.Session{
		ID:        uuid.NewString(),
		Key:       key,
		Kind:      model.SessionMain,
		Model:     modelName,
		Status:    model.SessionIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[sess.ID] = sess
	m.byKey[key] = sess.ID
	return cloneSession(sess), nil
}

// CreateWorkerSession creates a worker session, keyed by its own
// generated id (workers have no user-chosen key; spawn_worker addresses
// them by session id, not by the `key` namespace main sessions use).
func (m *MemoryStore) CreateWorkerSession(ctx context.Context, parentSessionID, task, modelName string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	sess := &model.Session{
		ID:              uuid.NewString(),
		Kind:            model.SessionWorker,
		ParentSessionID: parentSessionID,
		Task:            task,
		Model:           modelName,
		Status:          model.SessionIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	sess.Key = sess.ID
	m.sessions[sess.ID] = sess
	m.byKey[sess.Key] = sess.ID
	return cloneSession(sess), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) GetSessionByKey(ctx context.Context, key string) (*model.Session, error) {
	m.mu.RLock()
	id, ok := m.byKey[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetSession(ctx, id)
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, cloneSession(s))
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Key == "main" {
		return ErrBusy
	}
	delete(m.sessions, id)
	delete(m.byKey, s.Key)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendUserMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	msg := &model.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg, nil
}

// FinalizeTurn atomically appends the assistant message and advances the
// session's token counters, serialized per session via sessionLock.
func (m *MemoryStore) FinalizeTurn(ctx context.Context, sessionID string, assistant *model.Message, tokenIn, tokenOut int64) error {
	lock := m.sessionLock(sessionID)
	if !lock.TryLock() {
		return ErrBusy
	}
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if assistant.ID == "" {
		assistant.ID = uuid.NewString()
	}
	assistant.SessionID = sessionID
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = time.Now().UTC()
	}
	m.messages[sessionID] = append(m.messages[sessionID], assistant)
	sess.TokenInput += tokenIn
	sess.TokenOutput += tokenOut
	sess.Status = model.SessionIdle
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[sessionID]
	out := make([]*model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// policyKey identifies idempotence as (path, access, recursive).
func policyKey(r model.PolicyRule) string {
	return r.Path + "\x00" + string(r.Access) + "\x00" + boolStr(r.Recursive)
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (m *MemoryStore) PutPolicy(ctx context.Context, rule model.PolicyRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := policyKey(rule)
	for id, existing := range m.policies {
		if policyKey(existing) == key {
			rule.ID = id
			m.policies[id] = rule
			return nil
		}
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	m.policies[rule.ID] = rule
	return nil
}

func (m *MemoryStore) DeletePolicy(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.policies, id)
	return nil
}

func (m *MemoryStore) ListPolicies(ctx context.Context) ([]model.PolicyRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PolicyRule, 0, len(m.policies))
	for _, r := range m.policies {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) RecordSubagent(ctx context.Context, info *model.SubagentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *info
	m.subagents[info.SessionID] = &cp
	return nil
}

func (m *MemoryStore) UpdateSubagentState(ctx context.Context, sessionID string, state model.SubagentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.subagents[sessionID]
	if !ok {
		return ErrNotFound
	}
	info.State = state
	if state.IsTerminal() {
		now := time.Now().UTC()
		info.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) ListSubagents(ctx context.Context, filter SubagentFilter) ([]*model.SubagentInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.SubagentInfo
	for _, info := range m.subagents {
		if filter.ParentSessionID != "" && info.ParentSessionID != filter.ParentSessionID {
			continue
		}
		if filter.State != "" && info.State != filter.State {
			continue
		}
		cp := *info
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	// Observations are write-only and never read back by the core; the
	// in-memory store accepts and discards beyond existence validation.
	if obs.SessionID == "" {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
