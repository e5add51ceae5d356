// Package index maintains the archive index: a single JSON document listing
// every archive entry of a project, and the read-only search over it.
//
// Every mutation is a locked read-modify-write. The previous document is
// copied aside before the write and restored if the new document fails
// validation, so a failed write never leaves a corrupt index behind.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/fsutil"
	"github.com/scrypster/membank/internal/lock"
	"github.com/scrypster/membank/internal/logging"
	"github.com/scrypster/membank/pkg/types"
)

// DefaultLockTimeout is used when Options.LockTimeout is zero.
const DefaultLockTimeout = 3 * time.Second

// Options configures an Index.
type Options struct {
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// Index is the JSON archive catalogue stored at one path.
type Index struct {
	path        string
	lockTimeout time.Duration
	logger      *zap.Logger

	// afterWrite runs between the write and the validation (tests).
	afterWrite func(path string) error
}

// New returns an index stored at path. The file is created on first write.
func New(path string, opts Options) *Index {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Index{
		path:        path,
		lockTimeout: opts.LockTimeout,
		logger:      logging.OrNop(opts.Logger).Named("index"),
	}
}

// Path returns the index file path.
func (x *Index) Path() string {
	return x.path
}

// Load reads the index. A missing file is an empty index.
func (x *Index) Load(ctx context.Context) (*types.IndexDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(x.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &types.IndexDocument{Archives: []types.ArchiveEntry{}}, nil
		}
		return nil, types.ClassifyIOError("index: read", err)
	}
	return Validate(data)
}

// List returns all entries in stored order.
func (x *Index) List(ctx context.Context) ([]types.ArchiveEntry, error) {
	doc, err := x.Load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Archives, nil
}

// Count returns the number of entries.
func (x *Index) Count(ctx context.Context) (int, error) {
	doc, err := x.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(doc.Archives), nil
}

// Append adds one entry at the end of the index.
func (x *Index) Append(ctx context.Context, entry types.ArchiveEntry) error {
	if entry.ArchiveFile == "" {
		return fmt.Errorf("index: entry has no archive file")
	}
	if entry.Keywords == nil {
		entry.Keywords = []string{}
	}
	return x.mutate(ctx, func(doc *types.IndexDocument) error {
		doc.Archives = append(doc.Archives, entry)
		return nil
	})
}

// Prune keeps the maxEntries most recent entries and returns the removed
// ones, oldest first. Archive files are not touched.
func (x *Index) Prune(ctx context.Context, maxEntries int) ([]types.ArchiveEntry, error) {
	if maxEntries < 0 {
		return nil, fmt.Errorf("%w: prune limit must not be negative", types.ErrInvalidConfig)
	}
	var removed []types.ArchiveEntry
	err := x.mutate(ctx, func(doc *types.IndexDocument) error {
		sortByTimestamp(doc.Archives)
		if len(doc.Archives) <= maxEntries {
			return errNoChange
		}
		cut := len(doc.Archives) - maxEntries
		removed = append(removed, doc.Archives[:cut]...)
		doc.Archives = append([]types.ArchiveEntry{}, doc.Archives[cut:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Compact removes duplicate entries for the same archive file (the first
// occurrence wins) and sorts entries by timestamp, oldest first. It returns
// the number of duplicates removed.
func (x *Index) Compact(ctx context.Context) (int, error) {
	removed := 0
	err := x.mutate(ctx, func(doc *types.IndexDocument) error {
		seen := make(map[string]bool, len(doc.Archives))
		kept := make([]types.ArchiveEntry, 0, len(doc.Archives))
		for _, e := range doc.Archives {
			if seen[e.ArchiveFile] {
				removed++
				continue
			}
			seen[e.ArchiveFile] = true
			kept = append(kept, e)
		}
		sortByTimestamp(kept)
		doc.Archives = kept
		return nil
	})
	return removed, err
}

// Rebuild replaces the whole index with entries. Unlike the other
// mutations it does not read the current document, so it also recovers a
// corrupt index.
func (x *Index) Rebuild(ctx context.Context, entries []types.ArchiveEntry) error {
	l, err := x.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	doc := &types.IndexDocument{Archives: append([]types.ArchiveEntry{}, entries...)}
	for i := range doc.Archives {
		if doc.Archives[i].Keywords == nil {
			doc.Archives[i].Keywords = []string{}
		}
	}
	sortByTimestamp(doc.Archives)
	return x.write(doc)
}

// Missing returns the archive files referenced by the index that do not
// exist in archiveDir.
func (x *Index) Missing(ctx context.Context, archiveDir string) ([]string, error) {
	entries, err := x.List(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(archiveDir, e.ArchiveFile)); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, e.ArchiveFile)
		}
	}
	return missing, nil
}

// acquire takes the index lock, creating the index directory first.
func (x *Index) acquire(ctx context.Context) (*lock.FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return nil, types.ClassifyIOError("index: create directory", err)
	}
	return lock.Acquire(ctx, x.path, x.lockTimeout)
}

// errNoChange lets a mutation skip the write.
var errNoChange = errors.New("no change")

// mutate runs fn on the current document under the index lock and writes
// the result.
func (x *Index) mutate(ctx context.Context, fn func(doc *types.IndexDocument) error) error {
	l, err := x.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	doc, err := x.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	return x.write(doc)
}

// write stores doc, validating the result and rolling back to the previous
// document on failure. The caller holds the lock.
func (x *Index) write(doc *types.IndexDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encode: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return types.ClassifyIOError("index: create directory", err)
	}

	backup := x.path + ".bak"
	hadPrevious := true
	if err := fsutil.CopyFile(x.path, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return types.ClassifyIOError("index: backup", err)
		}
		hadPrevious = false
	}

	if err := fsutil.WriteAtomic(x.path, data, 0o644); err != nil {
		x.restore(backup, hadPrevious)
		return types.ClassifyIOError("index: write", err)
	}

	if x.afterWrite != nil {
		if err := x.afterWrite(x.path); err != nil {
			x.restore(backup, hadPrevious)
			return fmt.Errorf("index: post-write hook: %w", err)
		}
	}

	written, err := os.ReadFile(x.path)
	if err == nil {
		var got *types.IndexDocument
		got, err = Validate(written)
		if err == nil && len(got.Archives) != len(doc.Archives) {
			err = fmt.Errorf("%w: wrote %d entries, read back %d", types.ErrCorruptIndex, len(doc.Archives), len(got.Archives))
		}
	}
	if err != nil {
		x.restore(backup, hadPrevious)
		x.logger.Error("index failed validation after write; rolled back", zap.String("path", x.path), zap.Error(err))
		if !errors.Is(err, types.ErrCorruptIndex) {
			err = fmt.Errorf("%w: %w", types.ErrCorruptIndex, err)
		}
		return err
	}

	if hadPrevious {
		_ = os.Remove(backup)
	}
	return nil
}

// restore puts the pre-write document back, or removes the index when
// there was none.
func (x *Index) restore(backup string, hadPrevious bool) {
	if !hadPrevious {
		_ = os.Remove(x.path)
		return
	}
	if err := os.Rename(backup, x.path); err != nil {
		x.logger.Error("index rollback failed", zap.String("backup", backup), zap.Error(err))
	}
}

// Validate decodes an index document and checks its structure.
func Validate(data []byte) (*types.IndexDocument, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptIndex, err)
	}
	archives, ok := raw["archives"]
	if !ok {
		return nil, fmt.Errorf("%w: missing \"archives\" array", types.ErrCorruptIndex)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(archives), []byte("[")) {
		return nil, fmt.Errorf("%w: \"archives\" is not an array", types.ErrCorruptIndex)
	}

	doc := &types.IndexDocument{}
	if err := json.Unmarshal(archives, &doc.Archives); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptIndex, err)
	}
	for i, e := range doc.Archives {
		if e.ArchiveFile == "" {
			return nil, fmt.Errorf("%w: entry %d has no archive_file", types.ErrCorruptIndex, i)
		}
		if e.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: entry %d has no timestamp", types.ErrCorruptIndex, i)
		}
	}
	if doc.Archives == nil {
		doc.Archives = []types.ArchiveEntry{}
	}
	return doc, nil
}

func sortByTimestamp(entries []types.ArchiveEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
