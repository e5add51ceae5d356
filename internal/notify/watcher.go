package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/logging"
)

// NotesWatcher reports writes to Markdown notes files in one directory.
type NotesWatcher struct {
	dir     string
	exclude []string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// NewNotesWatcher creates a watcher for dir. Paths under any of the
// exclude directories (the archive directory) are ignored.
func NewNotesWatcher(dir string, exclude []string, logger *zap.Logger) *NotesWatcher {
	abs := make([]string, 0, len(exclude))
	for _, e := range exclude {
		if e == "" {
			continue
		}
		if a, err := filepath.Abs(e); err == nil {
			abs = append(abs, a)
		}
	}
	return &NotesWatcher{
		dir:     dir,
		exclude: abs,
		logger:  logging.OrNop(logger).Named("watch"),
	}
}

// Existing returns the notes files already present in the directory.
func (nw *NotesWatcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(nw.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		path := filepath.Join(nw.dir, entry.Name())
		if !entry.IsDir() && nw.IsNotesFile(path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// IsNotesFile reports whether path is a notes file the watcher cares about.
func (nw *NotesWatcher) IsNotesFile(path string) bool {
	base := filepath.Base(path)
	if filepath.Ext(base) != ".md" || strings.HasPrefix(base, ".") {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, ex := range nw.exclude {
		if abs == ex || strings.HasPrefix(abs, ex+string(filepath.Separator)) {
			return false
		}
	}
	return true
}

// Run watches the directory and calls onChange for every write or create
// of a notes file until ctx is cancelled. onChange runs on the watcher
// goroutine, so calls are serial.
func (nw *NotesWatcher) Run(ctx context.Context, onChange func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(nw.dir); err != nil {
		return err
	}
	nw.logger.Info("watching notes directory", zap.String("dir", nw.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 || !nw.IsNotesFile(evt.Name) {
				continue
			}
			onChange(evt.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			nw.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
