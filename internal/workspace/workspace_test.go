package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenEmptyDirYieldsEmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	snap := s.Snapshot()
	for _, name := range Files {
		require.Empty(t, snap.Get(name))
	}
}

func TestOpenReadsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "IDENTITY.md"), []byte("I am Batchismo."), 0o644))

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.Equal(t, "I am Batchismo.", s.Snapshot().Get("IDENTITY.md"))
}

func TestWriteArchivesPriorVersionAndReloads(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Write("MEMORY.md", "first"))
	require.Equal(t, "first", s.Snapshot().Get("MEMORY.md"))

	histDir := filepath.Join(dir, ".history", "MEMORY.md")
	entries, err := os.ReadDir(histDir)
	require.NoError(t, err)
	require.Empty(t, entries, "nothing existed yet, so the first write archives nothing")

	require.NoError(t, s.Write("MEMORY.md", "second"))
	require.Equal(t, "second", s.Snapshot().Get("MEMORY.md"))

	entries, err = os.ReadDir(histDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	archived, err := os.ReadFile(filepath.Join(histDir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, "first", string(archived))
}

func TestWriteRejectsUnrecognizedFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	err = s.Write("NOTES.md", "anything")
	require.Error(t, err)
}

func TestPruneRemovesOnlyEntriesOlderThanRetention(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	histDir := filepath.Join(dir, ".history", "SKILLS.md")
	require.NoError(t, os.MkdirAll(histDir, 0o755))

	oldPath := filepath.Join(histDir, "old.md")
	newPath := filepath.Join(histDir, "new.md")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0o644))

	now := time.Now()
	old := now.Add(-HistoryRetention - time.Hour)
	recent := now.Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))
	require.NoError(t, os.Chtimes(newPath, recent, recent))

	require.NoError(t, s.Prune(now))

	_, err = os.Stat(oldPath)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	require.NoError(t, err)
}

func TestSystemPromptSectionsSkipsEmptyFilesAndPreservesOrder(t *testing.T) {
	snap := Snapshot{Content: map[string]string{
		"IDENTITY.md": "who I am",
		"TOOLS.md":    "tool notes",
	}}
	out := SystemPromptSections(snap)

	idIdx := indexOf(out, "# IDENTITY.md")
	toolsIdx := indexOf(out, "# TOOLS.md")
	require.GreaterOrEqual(t, idIdx, 0)
	require.GreaterOrEqual(t, toolsIdx, 0)
	require.Less(t, idIdx, toolsIdx, "sections follow Files order")
	require.NotContains(t, out, "# MEMORY.md")
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
