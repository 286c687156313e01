// Package worker tracks the in-memory lifecycle of spawned worker sessions
// (spec.md §3 SubagentInfo, §9 "cyclic references"). It generalizes the
// teacher's internal/multiagent.SubagentRegistry: that registry owns its
// own disk persistence and a sweeper goroutine because the teacher has no
// separate durable store; here the Store (internal/store) already owns
// SubagentInfo persistence (spec.md's Ownership rule — "Store exclusively
// owns all persisted entities"), so this registry is a pure in-memory
// cache for fast parent/worker lookups and state-transition validation,
// always written through to the Store alongside the cache.
package worker

import (
	"context"
	"sync"

	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/store"
)

// validTransitions enumerates the legal state transitions named in
// spec.md's scenario 6: Running -> WaitingForAnswer -> Running -> Completed,
// plus the other terminal and pause/resume edges implied by §4.7/§4.9.
var validTransitions = map[model.SubagentState][]model.SubagentState{
	model.SubagentRunning: {
		model.SubagentWaitingForAnswer, model.SubagentPaused,
		model.SubagentCompleted, model.SubagentFailed, model.SubagentCancelled,
	},
	model.SubagentWaitingForAnswer: {model.SubagentRunning, model.SubagentCancelled, model.SubagentFailed},
	model.SubagentPaused:           {model.SubagentRunning, model.SubagentCancelled},
}

func isValidTransition(from, to model.SubagentState) bool {
	if from.IsTerminal() {
		return false
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Registry caches SubagentInfo by session id, backed by a Store for
// durability and for cross-parent lookups (ListSubagents by parent).
type Registry struct {
	store store.Store

	mu      sync.RWMutex
	byID    map[string]*model.SubagentInfo
	byQ     map[string]*model.PendingQuestion
}

// New builds a Registry over s, priming its cache from whatever subagent
// records already exist (e.g. after a gateway restart).
func New(ctx context.Context, s store.Store) (*Registry, error) {
	r := &Registry{store: s, byID: map[string]*model.SubagentInfo{}, byQ: map[string]*model.PendingQuestion{}}
	existing, err := s.ListSubagents(ctx, store.SubagentFilter{})
	if err != nil {
		return nil, corerr.Wrap(corerr.StoreError, err, "load existing subagents")
	}
	for _, info := range existing {
		cp := *info
		r.byID[info.SessionID] = &cp
	}
	return r, nil
}

// Register records a newly spawned worker, in the cache and the store.
func (r *Registry) Register(ctx context.Context, info *model.SubagentInfo) error {
	if err := r.store.RecordSubagent(ctx, info); err != nil {
		return corerr.Wrap(corerr.StoreError, err, "record subagent")
	}
	r.mu.Lock()
	cp := *info
	r.byID[info.SessionID] = &cp
	r.mu.Unlock()
	return nil
}

// Transition moves a worker to a new state, validating the edge is legal.
func (r *Registry) Transition(ctx context.Context, sessionID string, to model.SubagentState) error {
	r.mu.Lock()
	info, ok := r.byID[sessionID]
	if !ok {
		r.mu.Unlock()
		return corerr.New(corerr.InvalidInput, "unknown worker session %s", sessionID)
	}
	if !isValidTransition(info.State, to) {
		from := info.State
		r.mu.Unlock()
		return corerr.New(corerr.InvalidInput, "invalid worker transition %s -> %s", from, to)
	}
	info.State = to
	r.mu.Unlock()

	if err := r.store.UpdateSubagentState(ctx, sessionID, to); err != nil {
		return corerr.Wrap(corerr.StoreError, err, "update subagent state")
	}
	return nil
}

// Get returns a copy of the cached SubagentInfo.
func (r *Registry) Get(sessionID string) (model.SubagentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[sessionID]
	if !ok {
		return model.SubagentInfo{}, false
	}
	return *info, true
}

// ListByParent returns all workers (any state) spawned by parentSessionID.
func (r *Registry) ListByParent(parentSessionID string) []model.SubagentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SubagentInfo, 0)
	for _, info := range r.byID {
		if info.ParentSessionID == parentSessionID {
			out = append(out, *info)
		}
	}
	return out
}

// RunningCount reports how many of parentSessionID's workers are not yet
// terminal, for enforcing sandbox.max_concurrent_subagents.
func (r *Registry) RunningCount(parentSessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, info := range r.byID {
		if info.ParentSessionID == parentSessionID && !info.State.IsTerminal() {
			n++
		}
	}
	return n
}

// PutQuestion records a worker's pending Question until it is answered or
// the worker is cancelled.
func (r *Registry) PutQuestion(q *model.PendingQuestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *q
	r.byQ[q.QuestionID] = &cp
}

// TakeQuestion removes and returns a pending question by id.
func (r *Registry) TakeQuestion(questionID string) (model.PendingQuestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byQ[questionID]
	if !ok {
		return model.PendingQuestion{}, false
	}
	delete(r.byQ, questionID)
	return *q, true
}
