package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/batchismo/core/internal/model"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the durable Store implementation backing a gateway's
// `~/.batchismo/store.db`. It uses modernc.org/sqlite (cgo-free) rather
// than mattn/go-sqlite3, and applies its schema directly as an embedded,
// idempotent set of CREATE TABLE IF NOT EXISTS statements instead of a
// migration engine (see DESIGN.md for why golang-migrate was not wired).
type SQLiteStore struct {
	db *sql.DB
	// locks (guarded by mu) serializes FinalizeTurn/AppendUserMessage per session,
	// matching the teacher's per-session write-lock discipline.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (creating if absent) the sqlite database at path and applies
// the embedded schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is safest single-writer
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, locks: map[string]*sync.Mutex{}}, nil
}

func (s *SQLiteStore) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *SQLiteStore) CreateSession(ctx context.Context, key, modelName string) (*model.Session, error) {
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, key, kind, parent_session_id, task, model, thinking_level, status, token_input, token_output, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.Key, sess.Kind, sess.ParentSessionID, sess.Task, sess.Model,
		sess.ThinkingLevel, sess.Status, sess.TokenInput, sess.TokenOutput,
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflictingKey
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// CreateWorkerSession creates a worker session keyed by its own id; the
// `key` namespace main sessions use (unique, user-chosen) doesn't apply to
// workers, which are addressed by session id everywhere (spawn_worker's
// result, worker_status, etc).
func (s *SQLiteStore) CreateWorkerSession(ctx context.Context, parentSessionID, task, modelName string) (*model.Session, error) {
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, key, kind, parent_session_id, task, model, thinking_level, status, token_input, token_output, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.Key, sess.Kind, sess.ParentSessionID, sess.Task, sess.Model,
		sess.ThinkingLevel, sess.Status, sess.TokenInput, sess.TokenOutput,
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("create worker session: %w", err)
	}
	return sess, nil
}

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var sess model.Session
	var parent, task, thinking sql.NullString
	var created, updated string
	err := row.Scan(&sess.ID, &sess.Key, &sess.Kind, &parent, &task, &sess.Model,
		&thinking, &sess.Status, &sess.TokenInput, &sess.TokenOutput, &created, &updated)
	if err != nil {
		return nil, err
	}
	sess.ParentSessionID = parent.String
	sess.Task = task.String
	sess.ThinkingLevel = model.ThinkingLevel(thinking.String)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, created)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &sess, nil
}

const selectSessionCols = `id, key, kind, parent_session_id, task, model, thinking_level, status, token_input, token_output, created_at, updated_at`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectSessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSessionByKey(ctx context.Context, key string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectSessionCols+` FROM sessions WHERE key = ?`, key)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session by key: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectSessionCols+` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Key == "main" {
		return ErrBusy
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendUserMessage(ctx context.Context, sessionID, content string) (*model.Message, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	msg := &model.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?,?,?,?,?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	return msg, nil
}

// FinalizeTurn atomically appends the assistant message and advances token
// counters inside a single sqlite transaction, serialized per session.
func (s *SQLiteStore) FinalizeTurn(ctx context.Context, sessionID string, assistant *model.Message, tokenIn, tokenOut int64) error {
	lock := s.sessionLock(sessionID)
	if !lock.TryLock() {
		return ErrBusy
	}
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize turn: %w", err)
	}
	defer tx.Rollback()

	if assistant.ID == "" {
		assistant.ID = uuid.NewString()
	}
	assistant.SessionID = sessionID
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = time.Now().UTC()
	}
	toolCalls, _ := json.Marshal(assistant.ToolCalls)
	toolResults, _ := json.Marshal(assistant.ToolResults)

	_, err = tx.ExecContext(ctx, `INSERT INTO messages
		(id, session_id, role, content, tool_calls, tool_results, token_input, token_output, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		assistant.ID, sessionID, model.RoleAssistant, assistant.Content, string(toolCalls), string(toolResults),
		assistant.TokenInput, assistant.TokenOutput, assistant.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET
		token_input = token_input + ?, token_output = token_output + ?,
		status = ?, updated_at = ? WHERE id = ?`,
		tokenIn, tokenOut, model.SessionIdle, time.Now().UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return fmt.Errorf("update session counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, role, content, tool_calls, tool_results, token_input, token_output, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		var m model.Message
		var toolCalls, toolResults sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCalls, &toolResults, &m.TokenInput, &m.TokenOutput, &created); err != nil {
			return nil, err
		}
		if toolCalls.Valid && toolCalls.String != "" {
			json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls)
		}
		if toolResults.Valid && toolResults.String != "" {
			json.Unmarshal([]byte(toolResults.String), &m.ToolResults)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutPolicy(ctx context.Context, rule model.PolicyRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO policies (id, path, access, recursive, description)
		VALUES (?,?,?,?,?)
		ON CONFLICT(path, access, recursive) DO UPDATE SET description = excluded.description`,
		rule.ID, rule.Path, rule.Access, rule.Recursive, rule.Description)
	if err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListPolicies(ctx context.Context) ([]model.PolicyRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, access, recursive, description FROM policies`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()
	var out []model.PolicyRule
	for rows.Next() {
		var r model.PolicyRule
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Path, &r.Access, &r.Recursive, &desc); err != nil {
			return nil, err
		}
		r.Description = desc.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordSubagent(ctx context.Context, info *model.SubagentInfo) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO subagents
		(session_id, parent_session_id, label, task, state, started_at, summary, token_input, token_output)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		info.SessionID, info.ParentSessionID, info.Label, info.Task, info.State,
		info.StartedAt.Format(time.RFC3339), info.Summary, info.TokenInput, info.TokenOutput)
	if err != nil {
		return fmt.Errorf("record subagent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSubagentState(ctx context.Context, sessionID string, state model.SubagentState) error {
	var completedAt any
	if state.IsTerminal() {
		completedAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE subagents SET state = ?, completed_at = COALESCE(?, completed_at) WHERE session_id = ?`,
		state, completedAt, sessionID)
	if err != nil {
		return fmt.Errorf("update subagent state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListSubagents(ctx context.Context, filter SubagentFilter) ([]*model.SubagentInfo, error) {
	query := `SELECT session_id, parent_session_id, label, task, state, started_at, completed_at, summary, token_input, token_output FROM subagents WHERE 1=1`
	var args []any
	if filter.ParentSessionID != "" {
		query += ` AND parent_session_id = ?`
		args = append(args, filter.ParentSessionID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subagents: %w", err)
	}
	defer rows.Close()
	var out []*model.SubagentInfo
	for rows.Next() {
		var info model.SubagentInfo
		var started string
		var completed, summary sql.NullString
		if err := rows.Scan(&info.SessionID, &info.ParentSessionID, &info.Label, &info.Task, &info.State,
			&started, &completed, &summary, &info.TokenInput, &info.TokenOutput); err != nil {
			return nil, err
		}
		info.StartedAt, _ = time.Parse(time.RFC3339, started)
		if completed.Valid && completed.String != "" {
			t, _ := time.Parse(time.RFC3339, completed.String)
			info.CompletedAt = &t
		}
		info.Summary = summary.String
		out = append(out, &info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO observations (id, session_id, kind, detail, created_at) VALUES (?,?,?,?,?)`,
		obs.ID, obs.SessionID, obs.Kind, string(obs.Detail), obs.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation matches modernc.org/sqlite's constraint-violation error
// text; the driver does not expose a typed sqlite3.Error like mattn's.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
