package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/analysis"
	"github.com/scrypster/membank/internal/archive"
	"github.com/scrypster/membank/internal/lock"
	"github.com/scrypster/membank/internal/notify"
	"github.com/scrypster/membank/internal/rotation"
	"github.com/scrypster/membank/pkg/types"
)

// Reasons reported in Result.Reason.
const (
	ReasonRotated        = "rotated"
	ReasonBelowThreshold = "below_threshold"
	ReasonNotFound       = "not_found"
	ReasonLocked         = "locked"
)

// Result is the outcome of RotateIfNeeded.
type Result struct {
	Path      string
	Agent     string
	Rotated   bool
	Reason    string
	LineCount int
	Threshold int
	Score     int

	// Set when Rotated.
	Entry       *types.ArchiveEntry
	ArchivePath string
	Overflow    bool
}

// Summary is the single-line confirmation printed for the result.
func (r *Result) Summary() string {
	if !r.Rotated {
		return fmt.Sprintf("no rotation for %s: %s (%d/%d lines)", r.Path, strings.ReplaceAll(r.Reason, "_", " "), r.LineCount, r.Threshold)
	}
	return fmt.Sprintf("rotated %s: %d lines archived to %s, %d lines kept", r.Path, r.LineCount, r.ArchivePath, r.Entry.ArchivedSize)
}

// AgentFromPath derives an agent name from a notes file name.
func AgentFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Evaluate reads the notes file at path and returns the rotation decision
// without changing anything.
func (e *Engine) Evaluate(path string) (*rotation.Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.ClassifyIOError("engine: read notes", err)
	}
	return e.policy.Evaluate(string(data)), nil
}

// Inspect describes the notes file at path. An empty agent is derived from
// the file name.
func (e *Engine) Inspect(path, agent string) (types.MemoryFile, error) {
	if agent == "" {
		agent = AgentFromPath(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.MemoryFile{}, types.ClassifyIOError("engine: read notes", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return types.MemoryFile{}, types.ClassifyIOError("engine: stat notes", err)
	}
	_, backupErr := os.Stat(archive.BackupPath(path))
	return types.MemoryFile{
		Path:      path,
		Lines:     rotation.CountLines(string(data)),
		Bytes:     int64(len(data)),
		ModTime:   info.ModTime(),
		Agent:     agent,
		HasBackup: backupErr == nil,
	}, nil
}

// Breakdown scores the file at path and reports the contributing categories.
func (e *Engine) Breakdown(path string) (analysis.Breakdown, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return analysis.Breakdown{}, types.ClassifyIOError("engine: read", err)
	}
	return e.scorer.Breakdown(string(data)), nil
}

// RotateIfNeeded rotates the notes file at path when it is over the
// threshold. A missing file, a file at or under the threshold and a file
// locked by another rotation are all no-ops with a nil error.
func (e *Engine) RotateIfNeeded(ctx context.Context, path, agent string) (*Result, error) {
	if agent == "" {
		agent = AgentFromPath(path)
	}
	res := &Result{Path: path, Agent: agent, Threshold: e.policy.Threshold()}
	log := e.logger.With(zap.String("path", path), zap.String("agent", agent))

	// A missing file must not leave a lock file (or its directory) behind.
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("notes file does not exist")
			res.Reason = ReasonNotFound
			return res, nil
		}
		return nil, types.ClassifyIOError("engine: stat notes", err)
	}

	l, err := lock.Acquire(ctx, path, e.cfg.Rotation.LockTimeout)
	if err != nil {
		if errors.Is(err, types.ErrLockTimeout) {
			log.Info("notes file is locked by another rotation; skipping")
			res.Reason = ReasonLocked
			e.emit(notify.Event{Type: notify.EventRotationSkipped, Path: path, Agent: agent, Message: ReasonLocked})
			return res, nil
		}
		return nil, err
	}
	defer func() { _ = l.Release() }()

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug("notes file removed while waiting for the lock")
			res.Reason = ReasonNotFound
			return res, nil
		}
		return nil, types.ClassifyIOError("engine: read notes", err)
	}

	decision := e.policy.Evaluate(string(content))
	res.LineCount = decision.LineCount
	if !decision.Needed {
		log.Debug("below threshold", zap.Int("lines", decision.LineCount), zap.Int("threshold", res.Threshold))
		res.Reason = ReasonBelowThreshold
		return res, nil
	}

	if decision.Overflow {
		log.Warn("preserved critical lines exceed the threshold; the rotated file stays over it",
			zap.Int("critical", len(decision.Critical)), zap.Int("threshold", res.Threshold))
	}

	b, err := e.bankFor(e.cfg.ArchiveDirFor(path))
	if err != nil {
		return nil, err
	}

	res.Score = e.scorer.ScoreContent(string(content))
	reason := fmt.Sprintf("line count %d exceeds threshold %d", decision.LineCount, res.Threshold)

	entry, err := b.manager.ArchiveAndRotate(ctx, archive.Request{
		Path:     path,
		Agent:    agent,
		Content:  content,
		Decision: decision,
		Score:    res.Score,
		Reason:   reason,
	})
	if err != nil {
		e.emit(notify.Event{Type: notify.EventRotationFailed, Path: path, Agent: agent, Message: err.Error()})
		return nil, err
	}

	res.Rotated = true
	res.Reason = ReasonRotated
	res.Entry = entry
	res.ArchivePath = filepath.Join(b.dir, entry.ArchiveFile)
	res.Overflow = decision.Overflow

	if b.catalog != nil {
		b.catalog.upsert(ctx, *entry, string(content))
	}
	e.emit(notify.Event{Type: notify.EventRotationCompleted, Path: path, Agent: agent, Archive: res.ArchivePath})
	return res, nil
}

// Recover restores path from the backup left by a failed rotation. It
// reports whether a backup was found.
func (e *Engine) Recover(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(archive.BackupPath(path)); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	l, err := lock.Acquire(ctx, path, e.cfg.Rotation.LockTimeout)
	if err != nil {
		return false, err
	}
	defer func() { _ = l.Release() }()

	b, err := e.bankFor(e.cfg.ArchiveDirFor(path))
	if err != nil {
		return false, err
	}
	return b.manager.Recover(path)
}
