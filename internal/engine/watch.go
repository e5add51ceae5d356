package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scrypster/membank/internal/notify"
)

// Watch rotates notes files in dir as they change until ctx is cancelled.
// Each file is checked at most once per configured interval; a change that
// arrives sooner is checked when the interval has passed. Maintenance runs
// on the configured cron schedule. All work happens on the calling
// goroutine.
func (e *Engine) Watch(ctx context.Context, dir string) error {
	archiveDir := e.cfg.ArchiveDirFor(filepath.Join(dir, "notes.md"))
	nw := notify.NewNotesWatcher(dir, []string{archiveDir}, e.logger)
	log := e.logger.Named("watch").With(zap.String("dir", dir))

	existing, err := nw.Existing()
	if err != nil {
		return fmt.Errorf("engine: watch %s: %w", dir, err)
	}

	interval := e.cfg.Watch.Interval
	if interval <= 0 {
		interval = time.Second
	}

	maintenance := make(chan struct{}, 1)
	scheduler := cron.New()
	if spec := e.cfg.Watch.MaintenanceSchedule; spec != "" {
		if _, err := scheduler.AddFunc(spec, func() {
			select {
			case maintenance <- struct{}{}:
			default:
			}
		}); err != nil {
			return fmt.Errorf("engine: maintenance schedule %q: %w", spec, err)
		}
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := make(chan string, 64)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- nw.Run(watchCtx, func(path string) {
			select {
			case changes <- path:
			case <-watchCtx.Done():
			}
		})
	}()

	limiters := make(map[string]*rate.Limiter)
	pending := make(map[string]bool)

	check := func(path string) {
		lim, ok := limiters[path]
		if !ok {
			lim = rate.NewLimiter(rate.Every(interval), 1)
			limiters[path] = lim
		}
		if !lim.Allow() {
			pending[path] = true
			return
		}
		delete(pending, path)

		res, err := e.RotateIfNeeded(ctx, path, AgentFromPath(path))
		if err != nil {
			log.Error("rotation failed", zap.String("path", path), zap.Error(err))
			return
		}
		if res.Rotated {
			log.Info(res.Summary())
		}
	}

	for _, path := range existing {
		check(path)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			return <-watchErr
		case err := <-watchErr:
			return err
		case path := <-changes:
			check(path)
		case <-ticker.C:
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				check(path)
			}
		case <-maintenance:
			if err := e.Maintain(ctx, archiveDir); err != nil {
				log.Error("maintenance failed", zap.Error(err))
			}
		}
	}
}
