// Package workspace manages the gateway's user-editable markdown files
// (spec.md §6 "a workspace directory of user-editable markdown files:
// IDENTITY.md, MEMORY.md, PATTERNS.md, SKILLS.md, TOOLS.md") and their
// 30-day rolling history. It is grounded on the teacher's
// internal/skills.Manager: an fsnotify.Watcher with a debounced refresh
// loop, generalized from skill-directory discovery to a fixed five-file
// markdown set that is hot-reloaded between turns. Mid-turn reloads never
// happen — a turn's system prompt is built once at StartTurn, matching
// path-policy's own immutable-per-turn snapshot discipline (spec.md §9).
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Files lists the recognized workspace documents, in the order they are
// concatenated into a turn's system prompt.
var Files = []string{"IDENTITY.md", "MEMORY.md", "PATTERNS.md", "SKILLS.md", "TOOLS.md"}

// HistoryRetention is how long prior versions are kept before Prune
// removes them (spec.md §6: "30-day retention").
const HistoryRetention = 30 * 24 * time.Hour

// Snapshot is an immutable read of every workspace file at one moment,
// handed to a turn at StartTurn and never mutated afterward.
type Snapshot struct {
	Content map[string]string
}

// Get returns name's content, or "" if the file does not exist.
func (s Snapshot) Get(name string) string { return s.Content[name] }

// Store owns the on-disk workspace directory: reading, writing with
// history retention, and an optional background watcher that refreshes
// the cached Snapshot when files change outside the gateway (an editor,
// the out-of-core shell).
type Store struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open reads every recognized file under dir (missing files become empty
// strings) and returns a Store ready to serve Snapshot().
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	content := make(map[string]string, len(Files))
	for _, name := range Files {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("workspace: read %s: %w", name, err)
			}
			content[name] = ""
			continue
		}
		content[name] = string(data)
	}
	s.mu.Lock()
	s.snapshot = Snapshot{Content: content}
	s.mu.Unlock()
	return nil
}

// Snapshot returns the currently cached workspace content. Safe for
// concurrent use; callers take their own copy for the turn at StartTurn.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Write replaces name's content, first archiving the existing version
// into dir/.history/<name>/<timestamp>.md (spec.md §6 rolling history).
// name must be one of Files.
func (s *Store) Write(name, content string) error {
	if !isRecognized(name) {
		return fmt.Errorf("workspace: unrecognized file %q", name)
	}
	path := filepath.Join(s.dir, name)
	histDir := filepath.Join(s.dir, ".history", name)
	if err := os.MkdirAll(histDir, 0o755); err != nil {
		return fmt.Errorf("workspace: create history dir: %w", err)
	}
	if existing, err := os.ReadFile(path); err == nil {
		stamp := time.Now().UTC().Format("20060102T150405.000000000Z")
		if err := os.WriteFile(filepath.Join(histDir, stamp+".md"), existing, 0o644); err != nil {
			return fmt.Errorf("workspace: archive previous version: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("workspace: read existing %s: %w", name, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return s.reload()
}

// Prune deletes history entries older than HistoryRetention, across every
// file's .history subdirectory.
func (s *Store) Prune(now time.Time) error {
	cutoff := now.Add(-HistoryRetention)
	for _, name := range Files {
		histDir := filepath.Join(s.dir, ".history", name)
		entries, err := os.ReadDir(histDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("workspace: read history dir for %s: %w", name, err)
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				_ = os.Remove(filepath.Join(histDir, entry.Name()))
			}
		}
	}
	return nil
}

// Watch starts a background fsnotify watcher over dir, debouncing bursts
// of edits and reloading the cached Snapshot after each settle. Call
// Close to stop it.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("workspace: new watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("workspace: watch %s: %w", s.dir, err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchMu.Lock()
	s.watcher = watcher
	s.cancel = cancel
	s.watchMu.Unlock()

	s.wg.Add(1)
	go s.watchLoop(watchCtx, watcher, debounce)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer s.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := s.reload(); err != nil {
				s.logger.Warn("workspace reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if isRecognized(filepath.Base(event.Name)) {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("workspace watch error", "error", err)
		}
	}
}

// Close stops the background watcher, if running.
func (s *Store) Close() error {
	s.watchMu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	s.wg.Wait()
	return nil
}

func isRecognized(name string) bool {
	for _, f := range Files {
		if f == name {
			return true
		}
	}
	return false
}

// SystemPromptSections renders the snapshot's non-empty files as labeled
// markdown sections, in Files order, for concatenation onto the base
// system prompt built by internal/session's systemPromptFor.
func SystemPromptSections(snap Snapshot) string {
	var out string
	for _, name := range Files {
		content := snap.Get(name)
		if content == "" {
			continue
		}
		out += fmt.Sprintf("\n\n# %s\n%s", name, content)
	}
	return out
}
