// Package store is the durable record of sessions, messages, path
// policies, subagents, and observations. It mirrors the teacher's
// sessions.Store interface shape, generalized to the runtime core's
// superset of operations (policy CRUD, atomic turn finalization, subagent
// bookkeeping) and backed by a cgo-free SQLite implementation alongside an
// in-memory double for fast unit tests.
package store

import (
	"context"
	"errors"

	"github.com/batchismo/core/internal/model"
)

// ErrConflictingKey is returned by CreateSession when the key already
// exists.
var ErrConflictingKey = errors.New("store: conflicting session key")

// ErrNotFound is returned when a lookup by id/key finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrBusy is returned by FinalizeTurn when a concurrent writer holds the
// session's write lock.
var ErrBusy = errors.New("store: busy")

// SubagentFilter narrows ListSubagents; zero values mean "no filter".
type SubagentFilter struct {
	ParentSessionID string
	State           model.SubagentState
}

// Store is the single owner of all persisted entities (spec.md §3
// "Ownership"). Implementations must serialize writes per session and
// make FinalizeTurn atomic with the session's token-counter update.
type Store interface {
	CreateSession(ctx context.Context, key, modelName string) (*model.Session, error)
	CreateWorkerSession(ctx context.Context, parentSessionID, task, modelName string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	GetSessionByKey(ctx context.Context, key string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	DeleteSession(ctx context.Context, id string) error

	AppendUserMessage(ctx context.Context, sessionID, content string) (*model.Message, error)
	FinalizeTurn(ctx context.Context, sessionID string, assistant *model.Message, tokenIn, tokenOut int64) error
	ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error)

	PutPolicy(ctx context.Context, rule model.PolicyRule) error
	DeletePolicy(ctx context.Context, id string) error
	ListPolicies(ctx context.Context) ([]model.PolicyRule, error)

	RecordSubagent(ctx context.Context, info *model.SubagentInfo) error
	UpdateSubagentState(ctx context.Context, sessionID string, state model.SubagentState) error
	ListSubagents(ctx context.Context, filter SubagentFilter) ([]*model.SubagentInfo, error)

	AppendObservation(ctx context.Context, obs *model.Observation) error

	Close() error
}
