package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/analysis"
	"github.com/scrypster/membank/internal/fsutil"
	"github.com/scrypster/membank/internal/logging"
	"github.com/scrypster/membank/internal/rotation"
	"github.com/scrypster/membank/pkg/types"
)

// summaryMaxLen bounds the content summary stored in the index.
const summaryMaxLen = 160

// IndexAppender records archive entries. It is satisfied by *index.Index.
type IndexAppender interface {
	Append(ctx context.Context, entry types.ArchiveEntry) error
}

// Config holds archive manager configuration.
type Config struct {
	// Dir is where archive files are written.
	Dir string

	// Index receives one entry per successful rotation.
	Index IndexAppender

	// Keywords extracts the entry keyword set from archived content.
	Keywords *analysis.KeywordExtractor

	// ForceFailure aborts every transaction right after the backup step.
	// It exists to exercise the rollback path.
	ForceFailure bool

	// Logger receives diagnostics. Nil disables logging.
	Logger *zap.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Request describes one rotation to perform.
type Request struct {
	Path     string
	Agent    string
	Content  []byte
	Decision *rotation.Decision
	Score    int
	Reason   string
}

// Manager executes the archive-and-rotate transaction:
//
//  1. copy the notes file to "<path>.backup"
//  2. write the archive file with the full original content
//  3. atomically replace the notes file with the rewritten content
//  4. append the entry to the index
//  5. remove the backup
//
// If step 2, 3 or 4 fails the backup is restored over the notes file, the
// new archive file is removed and the backup is left in place.
type Manager struct {
	dir          string
	index        IndexAppender
	keywords     *analysis.KeywordExtractor
	forceFailure bool
	logger       *zap.Logger
	now          func() time.Time
}

// NewManager creates an archive manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: archive directory is required", types.ErrInvalidConfig)
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("%w: archive index is required", types.ErrInvalidConfig)
	}
	if cfg.Keywords == nil {
		cfg.Keywords = analysis.NewKeywordExtractor(types.DefaultKeywordVocabulary())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		dir:          cfg.Dir,
		index:        cfg.Index,
		keywords:     cfg.Keywords,
		forceFailure: cfg.ForceFailure,
		logger:       logging.OrNop(cfg.Logger).Named("archive"),
		now:          cfg.Now,
	}, nil
}

// Dir returns the archive directory.
func (m *Manager) Dir() string {
	return m.dir
}

// ArchiveAndRotate runs the transaction for req and returns the new entry.
func (m *Manager) ArchiveAndRotate(ctx context.Context, req Request) (*types.ArchiveEntry, error) {
	if req.Decision == nil || !req.Decision.Needed {
		return nil, fmt.Errorf("archive: %s does not need rotation", req.Path)
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, types.ClassifyIOError("archive: stat notes", err)
	}
	perm := info.Mode().Perm()
	log := m.logger.With(zap.String("path", req.Path), zap.String("agent", req.Agent))
	if err := m.transition(log, req.Decision.State(), types.StateRotating); err != nil {
		return nil, err
	}

	if stale, err := setAsideStaleBackup(req.Path); err != nil {
		return nil, types.ClassifyIOError("archive: set aside stale backup", err)
	} else if stale != "" {
		log.Warn("previous rotation left a backup; kept it aside", zap.String("backup", stale))
	}

	// Step 1: recovery point.
	backup := BackupPath(req.Path)
	if err := fsutil.CopyFile(req.Path, backup); err != nil {
		_ = os.Remove(backup)
		return nil, types.ClassifyIOError("archive: create backup", err)
	}

	if m.forceFailure {
		log.Debug("forced failure after backup")
		return nil, m.rollback(req.Path, "", false, types.ErrForcedFailure)
	}

	at := m.now().UTC()

	// Step 2: archive file.
	name, err := WriteFile(m.dir, Header{
		ArchiveDate:   at,
		Agent:         req.Agent,
		OriginalLines: req.Decision.LineCount,
		OriginalBytes: int64(len(req.Content)),
		Reason:        req.Reason,
	}, req.Content)
	if err != nil {
		return nil, m.rollback(req.Path, "", false, fmt.Errorf("%w: write archive: %w", types.ErrTransactionFailure, err))
	}
	archivePath := filepath.Join(m.dir, name)

	// Step 3: rewrite the notes file.
	rewritten := rotation.Render(req.Decision, archivePath, at)
	if err := ctx.Err(); err != nil {
		return nil, m.rollback(req.Path, archivePath, false, fmt.Errorf("%w: %w", types.ErrTransactionFailure, err))
	}
	if err := fsutil.WriteAtomic(req.Path, []byte(rewritten), perm); err != nil {
		return nil, m.rollback(req.Path, archivePath, true,
			fmt.Errorf("%w: rewrite notes: %w", types.ErrTransactionFailure, types.ClassifyIOError("write", err)))
	}

	// Step 4: index.
	entry, err := m.newEntry(req, name, rotation.CountLines(rewritten), at)
	if err != nil {
		return nil, m.rollback(req.Path, archivePath, true, fmt.Errorf("%w: %w", types.ErrTransactionFailure, err))
	}
	if err := m.index.Append(ctx, *entry); err != nil {
		return nil, m.rollback(req.Path, archivePath, true, fmt.Errorf("%w: index append: %w", types.ErrTransactionFailure, err))
	}

	// Step 5: commit.
	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		log.Warn("rotation committed but backup removal failed", zap.Error(err))
	}
	_ = m.transition(log, types.StateRotating, types.StateActive)

	log.Info("rotated notes",
		zap.String("archive", archivePath),
		zap.Int("lines", req.Decision.LineCount),
		zap.Int("kept", entry.ArchivedSize),
		zap.Bool("overflow", req.Decision.Overflow))
	return entry, nil
}

// transition records a rotation state change and rejects the ones the
// rotation state machine does not allow.
func (m *Manager) transition(log *zap.Logger, from, to types.RotationState) error {
	if !types.IsValidRotationTransition(from, to) {
		return fmt.Errorf("archive: invalid rotation transition %s -> %s", from, to)
	}
	log.Debug("rotation state", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// rollback removes the archive created by the failed transaction and, once
// the notes file may have been replaced, restores the backup over it. The
// backup itself is kept. The cause is returned to the caller, which reports
// it, so it is only logged at debug level here.
func (m *Manager) rollback(path, archivePath string, notesTouched bool, cause error) error {
	log := m.logger.With(zap.String("path", path))
	defer func() { _ = m.transition(log, types.StateRotating, types.StateActive) }()

	if archivePath != "" {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			log.Error("rollback: failed to remove archive", zap.String("archive", archivePath), zap.Error(err))
		}
	}

	if !notesTouched {
		log.Debug("rotation aborted before any destructive write", zap.Error(cause))
		return cause
	}

	if err := restoreFile(BackupPath(path), path); err != nil {
		log.Debug("rollback: failed to restore notes from backup", zap.Error(err))
		return fmt.Errorf("%w (rollback failed, recover from %s: %v)", cause, BackupPath(path), err)
	}

	log.Debug("rotation rolled back", zap.Error(cause))
	return cause
}

func (m *Manager) newEntry(req Request, name string, keptLines int, at time.Time) (*types.ArchiveEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate entry id: %w", err)
	}
	return &types.ArchiveEntry{
		ID:              id.String(),
		Timestamp:       at,
		Agent:           req.Agent,
		OriginalSize:    req.Decision.LineCount,
		OriginalBytes:   int64(len(req.Content)),
		ArchivedSize:    keptLines,
		ArchiveFile:     name,
		ContentSummary:  Summarize(req.Agent, req.Decision),
		Keywords:        m.keywords.Extract(string(req.Content)),
		ImportanceScore: req.Score,
		RotationReason:  req.Reason,
	}, nil
}

// Summarize describes what a rotation archived in one line. Category names
// stay out of the fixed text so that searching for a marker word only
// matches rotations whose content carried it.
func Summarize(agent string, d *rotation.Decision) string {
	kept := len(d.Critical) + len(d.Important)
	summary := fmt.Sprintf("%s: archived %d lines, kept %d", agent, d.LineCount, kept)

	if len(d.Critical) > 0 {
		summary += "; first kept: " + strings.TrimSpace(d.Critical[0])
	} else if len(d.Important) > 0 {
		summary += "; latest kept: " + strings.TrimSpace(d.Important[len(d.Important)-1])
	}

	if len(summary) > summaryMaxLen {
		summary = strings.ToValidUTF8(summary[:summaryMaxLen-3], "") + "..."
	}
	return summary
}

// Recover restores a notes file from the backup left by a failed rotation
// and removes the backup. It reports whether a backup was found.
func (m *Manager) Recover(path string) (bool, error) {
	backup := BackupPath(path)
	if _, err := os.Stat(backup); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, types.ClassifyIOError("archive: stat backup", err)
	}

	if err := restoreFile(backup, path); err != nil {
		return false, types.ClassifyIOError("archive: restore backup", err)
	}
	if err := os.Remove(backup); err != nil {
		return true, types.ClassifyIOError("archive: remove backup", err)
	}

	m.logger.Info("notes restored from backup", zap.String("path", path))
	return true, nil
}
