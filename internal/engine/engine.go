// Package engine wires the membank components together: it owns the
// classifier, scorer and rotation policy, and one archive bank (index,
// archive manager, searcher and optional catalog) per archive directory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/analysis"
	"github.com/scrypster/membank/internal/archive"
	"github.com/scrypster/membank/internal/config"
	"github.com/scrypster/membank/internal/index"
	"github.com/scrypster/membank/internal/logging"
	"github.com/scrypster/membank/internal/notify"
	"github.com/scrypster/membank/internal/rotation"
	"github.com/scrypster/membank/internal/storage/sqlite"
	"github.com/scrypster/membank/pkg/types"
)

// ErrCatalogUnavailable is returned by full-text operations when the
// catalog is disabled or could not be opened.
var ErrCatalogUnavailable = errors.New("full-text catalog unavailable")

// Options holds runtime dependencies that are not configuration.
type Options struct {
	// Logger receives diagnostics. Nil disables logging.
	Logger *zap.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Engine is the membank entry point used by the CLI and watch mode.
type Engine struct {
	cfg        *config.Config
	classifier *analysis.Classifier
	scorer     *analysis.Scorer
	policy     *rotation.Policy
	keywords   *analysis.KeywordExtractor
	events     *notify.EventWriter
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	banks map[string]*bank
}

// bank groups the components bound to one archive directory.
type bank struct {
	dir      string
	index    *index.Index
	manager  *archive.Manager
	searcher *index.Searcher
	catalog  *catalogMirror
}

// New creates an engine from cfg.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", types.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	classifier, err := analysis.NewClassifier(cfg.Patterns, cfg.Rotation.ClassifierCacheSize)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		scorer:     analysis.NewScorer(classifier),
		policy: rotation.NewPolicy(rotation.Config{
			Threshold:         cfg.Rotation.Threshold,
			HeaderLineBudget:  cfg.Rotation.HeaderLineBudget,
			MinImportantLines: cfg.Rotation.MinImportantLines,
		}, classifier),
		keywords: analysis.NewKeywordExtractor(cfg.Archive.Keywords),
		events:   notify.NewEventWriter(cfg.Events.Dir),
		logger:   logging.OrNop(opts.Logger).Named("engine"),
		now:      opts.Now,
		banks:    make(map[string]*bank),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Classifier returns the engine's line classifier.
func (e *Engine) Classifier() *analysis.Classifier {
	return e.classifier
}

// Scorer returns the engine's importance scorer.
func (e *Engine) Scorer() *analysis.Scorer {
	return e.scorer
}

// Policy returns the engine's rotation policy.
func (e *Engine) Policy() *rotation.Policy {
	return e.policy
}

// Close releases the catalogs opened by the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, b := range e.banks {
		if b.catalog != nil {
			errs = append(errs, b.catalog.close())
		}
	}
	e.banks = make(map[string]*bank)
	return errors.Join(errs...)
}

// bankFor returns the bank for archiveDir, creating it on first use.
func (e *Engine) bankFor(archiveDir string) (*bank, error) {
	dir, err := filepath.Abs(archiveDir)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve %s: %w", archiveDir, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.banks[dir]; ok {
		return b, nil
	}

	idx := index.New(e.cfg.IndexPathFor(dir), index.Options{
		LockTimeout: e.cfg.Rotation.LockTimeout,
		Logger:      e.logger,
	})
	manager, err := archive.NewManager(archive.Config{
		Dir:          dir,
		Index:        idx,
		Keywords:     e.keywords,
		ForceFailure: e.cfg.Rotation.ForceFailure,
		Logger:       e.logger,
		Now:          e.now,
	})
	if err != nil {
		return nil, err
	}

	b := &bank{
		dir:      dir,
		index:    idx,
		manager:  manager,
		searcher: index.NewSearcher(idx, dir, e.keywords, e.logger),
	}

	if e.cfg.Catalog.Enabled {
		path := e.cfg.CatalogPathFor(dir)
		catalog, err := sqlite.Open(path)
		if err != nil {
			e.logger.Warn("full-text catalog disabled", zap.String("path", path), zap.Error(err))
		} else {
			b.catalog = newCatalogMirror(catalog, e.logger)
		}
	}

	e.banks[dir] = b
	return b, nil
}

// emit writes an event file. Failures are logged and ignored.
func (e *Engine) emit(evt notify.Event) {
	if err := e.events.Emit(evt); err != nil {
		e.logger.Warn("failed to write event", zap.String("type", evt.Type), zap.Error(err))
	}
}

// Search runs a keyword/summary search over the index of archiveDir.
func (e *Engine) Search(ctx context.Context, archiveDir, term string, opts index.SearchOptions) ([]types.ArchiveEntry, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return nil, err
	}
	return b.searcher.Search(ctx, term, opts)
}

// FullTextSearch queries the catalog of archiveDir.
func (e *Engine) FullTextSearch(ctx context.Context, archiveDir, query string, opts sqlite.SearchOptions) ([]sqlite.Hit, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return nil, err
	}
	if b.catalog == nil {
		return nil, ErrCatalogUnavailable
	}
	return b.catalog.catalog.Search(ctx, query, opts)
}

// Stats summarises the index of archiveDir.
func (e *Engine) Stats(ctx context.Context, archiveDir string) (*types.IndexStats, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return nil, err
	}
	return b.searcher.Stats(ctx)
}

// List returns the index entries of archiveDir in stored order.
func (e *Engine) List(ctx context.Context, archiveDir string) ([]types.ArchiveEntry, error) {
	b, err := e.bankFor(archiveDir)
	if err != nil {
		return nil, err
	}
	return b.index.List(ctx)
}
