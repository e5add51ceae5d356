package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/membank/internal/archive"
	"github.com/scrypster/membank/internal/config"
)

func TestWatch_RotatesExistingAndChangedFiles(t *testing.T) {
	e, dir := newTestEngine(t, func(cfg *config.Config) {
		cfg.Watch.Interval = 20 * time.Millisecond
	})
	archiveDir := filepath.Join(dir, "archive")

	// Already over the threshold when the watch starts.
	writeFile(t, filepath.Join(dir, "planner.md"), scenarioNotes(500))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Watch(ctx, dir) }()

	require.Eventually(t, func() bool {
		infos, err := archive.List(archiveDir)
		return err == nil && len(infos) == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Give fsnotify a moment to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "coder.md"), scenarioNotes(480))

	require.Eventually(t, func() bool {
		infos, err := archive.List(archiveDir)
		return err == nil && len(infos) == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	entries, err := e.List(context.Background(), archiveDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWatch_InvalidSchedule(t *testing.T) {
	e, dir := newTestEngine(t, func(cfg *config.Config) {
		cfg.Watch.MaintenanceSchedule = "every full moon"
	})
	err := e.Watch(context.Background(), dir)
	assert.Error(t, err)
}

func TestWatch_MissingDir(t *testing.T) {
	e, dir := newTestEngine(t, nil)
	err := e.Watch(context.Background(), filepath.Join(dir, "nope"))
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "nope"))
	assert.True(t, os.IsNotExist(statErr))
}
