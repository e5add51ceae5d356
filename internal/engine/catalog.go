package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/storage/sqlite"
	"github.com/scrypster/membank/pkg/types"
)

// ErrCircuitOpen is returned when the catalog breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// breakerConfig holds the catalog circuit breaker settings.
type breakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the circuit.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before going half-open.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes needed to close again.
	HalfOpenMaxSuccesses uint32
}

func defaultBreakerConfig() breakerConfig {
	return breakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 1,
	}
}

// catalogMirror copies archive entries into the full-text catalog. Every
// write is best-effort: failures are logged, and after repeated failures
// the breaker stops calling the catalog for a while.
type catalogMirror struct {
	catalog *sqlite.Catalog
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func newCatalogMirror(catalog *sqlite.Catalog, logger *zap.Logger) *catalogMirror {
	return newCatalogMirrorWithConfig(catalog, defaultBreakerConfig(), logger)
}

func newCatalogMirrorWithConfig(catalog *sqlite.Catalog, cfg breakerConfig, logger *zap.Logger) *catalogMirror {
	log := logger.With(zap.String("catalog", catalog.Path()))
	settings := gobreaker.Settings{
		Name:        "CatalogCircuitBreaker",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Interval:    0, // Don't clear counts periodically
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("catalog breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &catalogMirror{
		catalog: catalog,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  log,
	}
}

// execute runs fn through the breaker.
func (m *catalogMirror) execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// state returns "closed", "open" or "half-open".
func (m *catalogMirror) state() string {
	return m.breaker.State().String()
}

func (m *catalogMirror) upsert(ctx context.Context, entry types.ArchiveEntry, content string) {
	err := m.execute(ctx, func() error {
		return m.catalog.Upsert(ctx, entry, content)
	})
	if err != nil {
		m.logger.Warn("catalog mirror failed", zap.String("archive", entry.ArchiveFile), zap.Error(err))
	}
}

func (m *catalogMirror) delete(ctx context.Context, names []string) {
	err := m.execute(ctx, func() error {
		return m.catalog.Delete(ctx, names...)
	})
	if err != nil {
		m.logger.Warn("catalog delete failed", zap.Int("archives", len(names)), zap.Error(err))
	}
}

func (m *catalogMirror) close() error {
	return m.catalog.Close()
}
