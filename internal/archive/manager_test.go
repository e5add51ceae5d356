package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/scrypster/membank/internal/analysis"
	"github.com/scrypster/membank/internal/rotation"
	"github.com/scrypster/membank/pkg/types"
)

// memIndex records appended entries in memory.
type memIndex struct {
	mu      sync.Mutex
	entries []types.ArchiveEntry
	err     error
}

func (m *memIndex) Append(_ context.Context, entry types.ArchiveEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

type fixture struct {
	dir     string
	notes   string
	archive string
	index   *memIndex
	policy  *rotation.Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	c, err := analysis.NewClassifier(types.DefaultPatternSet(), 64)
	require.NoError(t, err)
	return &fixture{
		dir:     dir,
		notes:   filepath.Join(dir, "notes.md"),
		archive: filepath.Join(dir, "archive"),
		index:   &memIndex{},
		policy:  rotation.NewPolicy(rotation.Config{Threshold: 450, HeaderLineBudget: 40, MinImportantLines: 100}, c),
	}
}

func (f *fixture) manager(t *testing.T, force bool) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Dir:          f.archive,
		Index:        f.index,
		ForceFailure: force,
		Now:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return m
}

// writeNotes writes n lines with critical and todo lines placed near the top.
func (f *fixture) writeNotes(t *testing.T, n int) []byte {
	t.Helper()
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d: routine progress", i)
	}
	lines[10] = "CRITICAL: disk full"
	lines[20] = "TODO: add retry"
	content := []byte(strings.Join(lines, "\n") + "\n")
	require.NoError(t, os.WriteFile(f.notes, content, 0o640))
	return content
}

func (f *fixture) request(content []byte) Request {
	return Request{
		Path:     f.notes,
		Agent:    "planner",
		Content:  content,
		Decision: f.policy.Evaluate(string(content)),
		Score:    100,
		Reason:   "line count 500 exceeds threshold 450",
	}
}

func TestArchiveAndRotate(t *testing.T) {
	f := newFixture(t)
	content := f.writeNotes(t, 500)
	m := f.manager(t, false)

	entry, err := m.ArchiveAndRotate(context.Background(), f.request(content))
	require.NoError(t, err)

	// Archive holds every original line verbatim.
	assert.Equal(t, "20260314-092653-notes.md", entry.ArchiveFile)
	af, err := ReadFile(filepath.Join(f.archive, entry.ArchiveFile))
	require.NoError(t, err)
	assert.Equal(t, content, af.Body)
	assert.Equal(t, 500, af.Header.OriginalLines)
	assert.Equal(t, "planner", af.Header.Agent)

	// Rewritten file keeps the markers and points at the archive.
	rewritten, err := os.ReadFile(f.notes)
	require.NoError(t, err)
	text := string(rewritten)
	assert.Contains(t, text, "CRITICAL: disk full")
	assert.Contains(t, text, "TODO: add retry")
	assert.Contains(t, text, entry.ArchiveFile)
	assert.NotContains(t, text, "line 300: routine progress")
	assert.Less(t, rotation.CountLines(text), 450)

	info, err := os.Stat(f.notes)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	// Backup is gone and exactly one entry was indexed.
	assert.NoFileExists(t, BackupPath(f.notes))
	require.Len(t, f.index.entries, 1)
	got := f.index.entries[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, 500, got.OriginalSize)
	assert.Equal(t, rotation.CountLines(text), got.ArchivedSize)
	assert.Equal(t, 100, got.ImportanceScore)
	assert.Contains(t, got.Keywords, "CRITICAL")
	assert.Contains(t, got.Keywords, "TODO")
	assert.Contains(t, got.ContentSummary, "first kept: CRITICAL: disk full")
}

func TestArchiveAndRotate_StateTransitions(t *testing.T) {
	for _, force := range []bool{false, true} {
		f := newFixture(t)
		content := f.writeNotes(t, 500)
		core, logs := observer.New(zapcore.DebugLevel)
		m, err := NewManager(Config{
			Dir:          f.archive,
			Index:        f.index,
			ForceFailure: force,
			Logger:       zap.New(core),
			Now:          func() time.Time { return fixedNow },
		})
		require.NoError(t, err)

		_, _ = m.ArchiveAndRotate(context.Background(), f.request(content))

		var got []string
		for _, e := range logs.FilterMessage("rotation state").All() {
			fields := e.ContextMap()
			got = append(got, fmt.Sprintf("%s->%s", fields["from"], fields["to"]))
		}
		assert.Equal(t, []string{"rotation_needed->rotating", "rotating->active"}, got, "force=%v", force)
		assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "failures are reported by the caller")
	}
}

func TestArchiveAndRotate_NotNeeded(t *testing.T) {
	f := newFixture(t)
	content := f.writeNotes(t, 450)

	_, err := f.manager(t, false).ArchiveAndRotate(context.Background(), f.request(content))
	require.Error(t, err)
	assert.NoFileExists(t, BackupPath(f.notes))
	assert.Empty(t, f.index.entries)
}

func TestArchiveAndRotate_ForcedFailure(t *testing.T) {
	f := newFixture(t)
	content := f.writeNotes(t, 500)

	_, err := f.manager(t, true).ArchiveAndRotate(context.Background(), f.request(content))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrForcedFailure)
	assert.ErrorIs(t, err, types.ErrTransactionFailure)

	got, err := os.ReadFile(f.notes)
	require.NoError(t, err)
	assert.Equal(t, content, got, "notes must be unchanged")

	infos, err := List(f.archive)
	require.NoError(t, err)
	assert.Empty(t, infos, "no archive may survive a failed rotation")
	assert.Empty(t, f.index.entries)
	assert.FileExists(t, BackupPath(f.notes), "backup is kept for recovery")
}

func TestArchiveAndRotate_IndexFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	content := f.writeNotes(t, 500)
	f.index.err = errors.New("disk on fire")

	_, err := f.manager(t, false).ArchiveAndRotate(context.Background(), f.request(content))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransactionFailure)

	got, err := os.ReadFile(f.notes)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	infos, err := List(f.archive)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestArchiveAndRotate_MissingFile(t *testing.T) {
	f := newFixture(t)
	content := []byte(strings.Repeat("x\n", 500))

	_, err := f.manager(t, false).ArchiveAndRotate(context.Background(), f.request(content))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFileNotFound)
}

func TestArchiveAndRotate_SetsAsideStaleBackup(t *testing.T) {
	f := newFixture(t)
	content := f.writeNotes(t, 500)
	require.NoError(t, os.WriteFile(BackupPath(f.notes), []byte("old"), 0o644))

	_, err := f.manager(t, false).ArchiveAndRotate(context.Background(), f.request(content))
	require.NoError(t, err)

	matches, err := filepath.Glob(BackupPath(f.notes) + ".*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	old, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestArchiveAndRotate_RepeatedFailureLeavesOneBackup(t *testing.T) {
	f := newFixture(t)
	content := f.writeNotes(t, 500)
	m := f.manager(t, true)

	for i := 0; i < 3; i++ {
		_, err := m.ArchiveAndRotate(context.Background(), f.request(content))
		require.ErrorIs(t, err, types.ErrForcedFailure)
	}

	assert.FileExists(t, BackupPath(f.notes))
	stale, err := StaleBackups(f.notes)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestStaleBackups(t *testing.T) {
	f := newFixture(t)
	f.writeNotes(t, 500)
	for _, name := range []string{".backup.200", ".backup.100", ".backup.tmp", ".backup"} {
		require.NoError(t, os.WriteFile(f.notes+name, []byte("x"), 0o644))
	}

	stale, err := StaleBackups(f.notes)
	require.NoError(t, err)
	assert.Equal(t, []string{f.notes + ".backup.100", f.notes + ".backup.200"}, stale)
}

func TestArchiveAndRotate_SameSecondDoesNotOverwrite(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, false)

	first := f.writeNotes(t, 500)
	e1, err := m.ArchiveAndRotate(context.Background(), f.request(first))
	require.NoError(t, err)

	second := f.writeNotes(t, 480)
	e2, err := m.ArchiveAndRotate(context.Background(), f.request(second))
	require.NoError(t, err)

	assert.NotEqual(t, e1.ArchiveFile, e2.ArchiveFile)
	assert.Equal(t, "20260314-092653-1-notes.md", e2.ArchiveFile)

	a1, err := ReadFile(filepath.Join(f.archive, e1.ArchiveFile))
	require.NoError(t, err)
	assert.Equal(t, first, a1.Body)
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	content := f.writeNotes(t, 500)
	m := f.manager(t, true)

	_, err := m.ArchiveAndRotate(context.Background(), f.request(content))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(f.notes, []byte("half written"), 0o644))

	found, err := m.Recover(f.notes)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := os.ReadFile(f.notes)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, BackupPath(f.notes))

	found, err = m.Recover(f.notes)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSummarize_Truncates(t *testing.T) {
	d := &rotation.Decision{
		LineCount: 500,
		Counts:    map[types.Category]int{types.CategoryCritical: 1},
		Critical:  []string{"CRITICAL: " + strings.Repeat("very long ", 40)},
	}
	s := Summarize("planner", d)
	assert.LessOrEqual(t, len(s), summaryMaxLen)
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.True(t, strings.HasPrefix(s, "planner: archived 500 lines"))
}

func TestSummarize_OmitsCategoryNames(t *testing.T) {
	d := &rotation.Decision{
		LineCount: 460,
		Counts:    map[types.Category]int{types.CategoryNormal: 460},
	}
	s := strings.ToLower(Summarize("plain", d))
	assert.Equal(t, "plain: archived 460 lines, kept 0", s)
	for _, c := range types.AllCategories {
		assert.NotContains(t, s, c.String())
	}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{Index: &memIndex{}})
	assert.ErrorIs(t, err, types.ErrInvalidConfig)

	_, err = NewManager(Config{Dir: t.TempDir()})
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}
