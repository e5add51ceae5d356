package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/membank/pkg/types"
)

func TestAcquireRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "notes.md")

	l, err := Acquire(context.Background(), target, time.Second)
	require.NoError(t, err)
	assert.Equal(t, target, l.Path())
	assert.FileExists(t, LockPath(target))
	require.NoError(t, l.Release())

	// Lock can be taken again after release.
	l2, err := Acquire(context.Background(), target, time.Second)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	target := filepath.Join(t.TempDir(), "notes.md")

	held, err := Acquire(context.Background(), target, time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	start := time.Now()
	_, err = Acquire(context.Background(), target, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrLockTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquire_MissingDirectory(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "nested")
	target := filepath.Join(parent, "dir", "index.json")

	_, err := Acquire(context.Background(), target, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFileNotFound)
	assert.NoDirExists(t, parent)
}

func TestRelease_Nil(t *testing.T) {
	var l *FileLock
	assert.NoError(t, l.Release())
}
