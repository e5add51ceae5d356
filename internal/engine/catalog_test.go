package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/storage/sqlite"
	"github.com/scrypster/membank/pkg/types"
)

func TestCatalogMirror_BreakerOpensAfterFailures(t *testing.T) {
	catalog, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	m := newCatalogMirrorWithConfig(catalog, breakerConfig{
		MaxFailures:          2,
		Timeout:              time.Minute,
		HalfOpenMaxSuccesses: 1,
	}, zap.NewNop())

	// A closed database fails every call.
	require.NoError(t, catalog.Close())

	entry := types.ArchiveEntry{ArchiveFile: "a-notes.md", Timestamp: time.Now(), Agent: "planner"}
	ctx := context.Background()
	m.upsert(ctx, entry, "x")
	m.upsert(ctx, entry, "x")
	assert.Equal(t, "open", m.state())

	err = m.execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCatalogMirror_Success(t *testing.T) {
	catalog, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	m := newCatalogMirror(catalog, zap.NewNop())
	t.Cleanup(func() { _ = m.close() })

	ctx := context.Background()
	entry := types.ArchiveEntry{ArchiveFile: "a-notes.md", Timestamp: time.Now(), Agent: "planner"}
	m.upsert(ctx, entry, "hello world")
	assert.Equal(t, "closed", m.state())

	n, err := catalog.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m.delete(ctx, []string{"a-notes.md"})
	n, err = catalog.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
