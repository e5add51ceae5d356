package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/membank/pkg/types"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "archive", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func catalogEntry(name, agent string, minute int, keywords ...string) types.ArchiveEntry {
	return types.ArchiveEntry{
		ID:             "id-" + name,
		Timestamp:      time.Date(2026, 5, 1, 12, minute, 0, 0, time.UTC),
		Agent:          agent,
		OriginalSize:   500,
		ArchivedSize:   11,
		ArchiveFile:    name,
		ContentSummary: agent + ": archived 500 lines",
		Keywords:       keywords,
	}
}

func TestCatalog_UpsertAndSearch(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.Upsert(ctx, catalogEntry("a-notes.md", "planner", 0, "CRITICAL"), "CRITICAL: disk full on db-1\nroutine\n"))
	require.NoError(t, c.Upsert(ctx, catalogEntry("b-notes.md", "coder", 1, "TODO"), "TODO: add retry to the uploader\n"))

	hits, err := c.Search(ctx, "disk", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a-notes.md", hits[0].Entry.ArchiveFile)
	assert.Equal(t, []string{"CRITICAL"}, hits[0].Entry.Keywords)
	assert.Contains(t, hits[0].Snippet, "[disk]")
	assert.True(t, hits[0].Entry.Timestamp.Equal(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)))

	hits, err = c.Search(ctx, "retr", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1, "prefix match")
	assert.Equal(t, "coder", hits[0].Entry.Agent)
}

func TestCatalog_SearchAgentFilterAndEmptyQuery(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, catalogEntry("a-notes.md", "planner", 0), "shared words\n"))
	require.NoError(t, c.Upsert(ctx, catalogEntry("b-notes.md", "coder", 1), "shared words\n"))

	hits, err := c.Search(ctx, "shared", SearchOptions{Agent: "coder"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b-notes.md", hits[0].Entry.ArchiveFile)

	hits, err = c.Search(ctx, "", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b-notes.md", hits[0].Entry.ArchiveFile, "newest first")
}

func TestCatalog_UpsertReplaces(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	e := catalogEntry("a-notes.md", "planner", 0)

	require.NoError(t, c.Upsert(ctx, e, "old content\n"))
	require.NoError(t, c.Upsert(ctx, e, "new content\n"))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := c.Search(ctx, "old", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCatalog_DeleteAndReset(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, catalogEntry("a-notes.md", "planner", 0), "alpha\n"))
	require.NoError(t, c.Upsert(ctx, catalogEntry("b-notes.md", "planner", 1), "beta\n"))

	require.NoError(t, c.Delete(ctx, "a-notes.md"))
	hits, err := c.Search(ctx, "alpha", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, c.Reset(ctx))
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCatalog_SearchSurvivesSyntax(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, catalogEntry("a-notes.md", "planner", 0), "quote test\n"))

	for _, q := range []string{`"unbalanced`, `AND OR NOT`, `(*)`, `?`} {
		_, err := c.Search(ctx, q, SearchOptions{})
		assert.NoError(t, err, "query %q", q)
	}
}

func TestSanitiseFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"disk full?", `"disk"* OR "full"*`},
		{"the CRITICAL error", `"critical"* OR "error"*`},
		{"a", `"a"`},
		{"(*)", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitiseFTSQuery(tt.in), "sanitiseFTSQuery(%q)", tt.in)
	}
}
