package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/archive"
	"github.com/scrypster/membank/internal/index"
	"github.com/scrypster/membank/internal/notify"
	"github.com/scrypster/membank/pkg/types"
)

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	Pruned       int
	FilesRemoved int
	BytesBefore  int64
	BytesAfter   int64
}

// ReindexResult reports what Reindex rebuilt.
type ReindexResult struct {
	Entries    int
	Kept       int
	Recovered  int
	Dropped    int
	Unreadable int
	Catalogued int
}

// Compact de-duplicates and sorts the index of archiveDir and returns the
// number of duplicates removed.
func (e *Engine) Compact(ctx context.Context, archiveDir string) (int, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return 0, err
	}
	removed, err := b.index.Compact(ctx)
	if err != nil {
		return 0, err
	}
	e.logger.Info("index compacted", zap.String("archive_dir", b.dir), zap.Int("duplicates", removed))
	return removed, nil
}

// Cleanup keeps the keep most recent index entries of archiveDir and
// deletes the archive files of the pruned ones.
func (e *Engine) Cleanup(ctx context.Context, archiveDir string, keep int) (*CleanupResult, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return nil, err
	}

	res := &CleanupResult{}
	if res.BytesBefore, err = archive.DiskUsage(b.dir); err != nil {
		return nil, err
	}

	pruned, err := b.index.Prune(ctx, keep)
	if err != nil {
		return nil, err
	}
	res.Pruned = len(pruned)

	names := make([]string, 0, len(pruned))
	for _, entry := range pruned {
		names = append(names, entry.ArchiveFile)
	}
	res.FilesRemoved, err = archive.Remove(b.dir, names)
	if err != nil {
		e.logger.Warn("some pruned archives could not be deleted", zap.Error(err))
	}
	if b.catalog != nil && len(names) > 0 {
		b.catalog.delete(ctx, names)
	}

	res.BytesAfter, _ = archive.DiskUsage(b.dir)
	e.logger.Info("archives cleaned up",
		zap.String("archive_dir", b.dir),
		zap.Int("pruned", res.Pruned),
		zap.Int("files_removed", res.FilesRemoved))
	return res, err
}

// Maintain runs Compact and Cleanup with the configured retention.
func (e *Engine) Maintain(ctx context.Context, archiveDir string) error {
	removed, err := e.Compact(ctx, archiveDir)
	if err != nil {
		return err
	}
	res, err := e.Cleanup(ctx, archiveDir, e.cfg.Archive.Retention)
	if err != nil {
		return err
	}
	e.emit(notify.Event{
		Type:    notify.EventMaintenanceCompleted,
		Archive: archiveDir,
		Message: fmt.Sprintf("%d duplicates removed, %d entries pruned", removed, res.Pruned),
	})
	return nil
}

// Reindex rebuilds the index of archiveDir from the archive files on disk.
// Entries of the current index are kept when their file still exists;
// archives without an entry get one reconstructed from their header. When
// the catalog is enabled it is rebuilt too.
func (e *Engine) Reindex(ctx context.Context, archiveDir string) (*ReindexResult, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]types.ArchiveEntry)
	current, err := b.index.List(ctx)
	switch {
	case err == nil:
		for _, entry := range current {
			if _, dup := existing[entry.ArchiveFile]; !dup {
				existing[entry.ArchiveFile] = entry
			}
		}
	case errors.Is(err, types.ErrCorruptIndex):
		e.logger.Warn("current index is corrupt; rebuilding from archives only", zap.Error(err))
	default:
		return nil, err
	}

	files, bad, err := archive.Scan(b.dir)
	if err != nil {
		return nil, err
	}
	for _, badErr := range bad {
		e.logger.Warn("skipping unreadable archive", zap.Error(badErr))
	}

	res := &ReindexResult{Unreadable: len(bad)}
	entries := make([]types.ArchiveEntry, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Name] = true
		if entry, ok := existing[f.Name]; ok {
			entries = append(entries, entry)
			res.Kept++
			continue
		}
		entries = append(entries, index.EntryFromFile(f, e.keywords))
		res.Recovered++
	}
	for name := range existing {
		if !seen[name] {
			res.Dropped++
		}
	}

	if err := b.index.Rebuild(ctx, entries); err != nil {
		return nil, err
	}
	res.Entries = len(entries)

	if b.catalog != nil {
		if err := b.catalog.catalog.Reset(ctx); err != nil {
			return res, fmt.Errorf("engine: reset catalog: %w", err)
		}
		bodies := make(map[string]string, len(files))
		for _, f := range files {
			bodies[f.Name] = string(f.Body)
		}
		for _, entry := range entries {
			if err := b.catalog.catalog.Upsert(ctx, entry, bodies[entry.ArchiveFile]); err != nil {
				return res, fmt.Errorf("engine: catalog %s: %w", entry.ArchiveFile, err)
			}
			res.Catalogued++
		}
	}

	e.logger.Info("index rebuilt",
		zap.String("archive_dir", b.dir),
		zap.Int("entries", res.Entries),
		zap.Int("recovered", res.Recovered),
		zap.Int("dropped", res.Dropped))
	return res, nil
}

// Missing lists index entries of archiveDir whose archive file is gone.
func (e *Engine) Missing(ctx context.Context, archiveDir string) ([]string, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return nil, err
	}
	return b.index.Missing(ctx, b.dir)
}
