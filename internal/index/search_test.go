package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/membank/internal/archive"
	"github.com/scrypster/membank/internal/rotation"
	"github.com/scrypster/membank/pkg/types"
)

func seededSearcher(t *testing.T) (*Searcher, *Index) {
	t.Helper()
	x := newTestIndex(t)
	ctx := context.Background()

	e0 := entryAt(0, "CRITICAL", "TODO")
	e1 := entryAt(1, "NOTE")
	e1.Agent = "coder"
	e1.ContentSummary = "coder: archived the deployment checklist"
	e2 := entryAt(2, "TODO")
	for _, e := range []types.ArchiveEntry{e0, e1, e2} {
		require.NoError(t, x.Append(ctx, e))
	}
	return NewSearcher(x, filepath.Dir(x.Path()), nil, nil), x
}

func ids(entries []types.ArchiveEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestSearch_KeywordsNewestFirst(t *testing.T) {
	s, _ := seededSearcher(t)

	got, err := s.Search(context.Background(), "todo", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-2", "id-0"}, ids(got))
}

func TestSearch_Summary(t *testing.T) {
	s, _ := seededSearcher(t)

	got, err := s.Search(context.Background(), "Deployment", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1"}, ids(got))
}

func TestSearch_AgentAndLimit(t *testing.T) {
	s, _ := seededSearcher(t)
	ctx := context.Background()

	got, err := s.Search(ctx, "", SearchOptions{Agent: "planner"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-2", "id-0"}, ids(got))

	got, err = s.Search(ctx, "", SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"id-2"}, ids(got))
}

func TestSearch_NoMatch(t *testing.T) {
	s, _ := seededSearcher(t)

	got, err := s.Search(context.Background(), "nothing-like-this", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_MarkerWordNeedsKeyword(t *testing.T) {
	x := newTestIndex(t)
	ctx := context.Background()

	plain := entryAt(0)
	plain.Keywords = []string{}
	plain.ContentSummary = archive.Summarize("plain", &rotation.Decision{
		LineCount: 460,
		Counts:    map[types.Category]int{types.CategoryNormal: 460},
	})
	require.NoError(t, x.Append(ctx, plain))
	s := NewSearcher(x, filepath.Dir(x.Path()), nil, nil)

	for _, term := range []string{"CRITICAL", "important", "temporary"} {
		got, err := s.Search(ctx, term, SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, got, term)
	}
}

func TestSearch_DoesNotModifyIndex(t *testing.T) {
	s, x := seededSearcher(t)
	before, err := os.ReadFile(x.Path())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "todo", SearchOptions{})
	require.NoError(t, err)

	after, err := os.ReadFile(x.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSearch_FallsBackToArchiveScan(t *testing.T) {
	dir := t.TempDir()
	x := New(filepath.Join(dir, "index.json"), Options{})
	require.NoError(t, os.WriteFile(x.Path(), []byte("{corrupt"), 0o644))

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err := archive.WriteFile(dir, archive.Header{ArchiveDate: at, Agent: "planner", OriginalLines: 2}, []byte("FIXME: flaky test\nroutine\n"))
	require.NoError(t, err)
	_, err = archive.WriteFile(dir, archive.Header{ArchiveDate: at.Add(time.Hour), Agent: "coder", OriginalLines: 1}, []byte("nothing here\n"))
	require.NoError(t, err)

	s := NewSearcher(x, dir, nil, nil)
	got, err := s.Search(context.Background(), "flaky", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "planner", got[0].Agent)
	assert.Equal(t, []string{"FIXME"}, got[0].Keywords)
	assert.True(t, at.Equal(got[0].Timestamp))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Degraded)
	assert.Equal(t, 2, stats.Count)
}

func TestStats(t *testing.T) {
	s, _ := seededSearcher(t)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 1500, stats.TotalOriginalSize)
	assert.Equal(t, 36, stats.TotalArchivedSize)
	assert.False(t, stats.Degraded)
	assert.True(t, baseTime.Equal(stats.First))
	assert.True(t, baseTime.Add(2*time.Minute).Equal(stats.Last))
	require.NotEmpty(t, stats.TopKeywords)
	assert.Equal(t, types.KeywordCount{Keyword: "TODO", Count: 2}, stats.TopKeywords[0])
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil)
	assert.Zero(t, stats.Count)
	assert.NotNil(t, stats.TopKeywords)
	assert.True(t, stats.First.IsZero())
}
