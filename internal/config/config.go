// Package config provides configuration management for membank.
// Settings come from built-in defaults, an optional YAML file and
// environment variables with the MEMBANK_ prefix, in increasing order of
// precedence. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/membank/pkg/types"
)

// Config holds all configuration settings for membank.
type Config struct {
	Rotation RotationConfig   `yaml:"rotation"`
	Patterns types.PatternSet `yaml:"patterns"`
	Archive  ArchiveConfig    `yaml:"archive"`
	Catalog  CatalogConfig    `yaml:"catalog"`
	Events   EventsConfig     `yaml:"events"`
	Watch    WatchConfig      `yaml:"watch"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// RotationConfig controls when a notes file rotates and what it keeps.
type RotationConfig struct {
	Threshold           int           `yaml:"threshold"`             // Line count that triggers rotation (default: 450)
	HeaderLineBudget    int           `yaml:"header_line_budget"`    // Max leading header lines carried over (default: 40)
	MinImportantLines   int           `yaml:"min_important_lines"`   // Cap on preserved Important lines (default: 100)
	LockTimeout         time.Duration `yaml:"lock_timeout"`          // Per-file lock wait before no-op (default: 3s)
	ClassifierCacheSize int           `yaml:"classifier_cache_size"` // LRU entries, 0 disables (default: 4096)
	ForceFailure        bool          `yaml:"-"`                     // Test hook, env only (default: false)
}

// ArchiveConfig contains archive storage and index settings.
type ArchiveConfig struct {
	Dir       string   `yaml:"dir"`        // Archive directory (default: <notes dir>/archive)
	IndexPath string   `yaml:"index_path"` // Index file (default: <archive dir>/index.json)
	Retention int      `yaml:"retention"`  // Entries kept by prune (default: 100)
	Keywords  []string `yaml:"keywords"`   // Keyword vocabulary for index entries
}

// CatalogConfig contains the full-text catalog settings.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"` // Mirror archives into SQLite (default: false)
	Path    string `yaml:"path"`    // Database file (default: <archive dir>/catalog.db)
}

// EventsConfig contains event sink settings.
type EventsConfig struct {
	Dir string `yaml:"dir"` // Directory for event files, empty disables (default: "")
}

// WatchConfig contains watch mode settings.
type WatchConfig struct {
	Interval            time.Duration `yaml:"interval"`             // Minimum time between checks of one file (default: 2s)
	MaintenanceSchedule string        `yaml:"maintenance_schedule"` // Cron spec for compact+prune (default: @daily)
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // console or json (default: console)
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// MEMBANK_CONFIG (if any) and MEMBANK_* environment variables.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(os.Getenv("MEMBANK_CONFIG"))
}

// LoadConfigFile is like LoadConfig but reads the YAML file at path.
// An empty path skips the file. Environment variables still take precedence
// over values from the file.
func LoadConfigFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Rotation: RotationConfig{
			Threshold:           450,
			HeaderLineBudget:    40,
			MinImportantLines:   100,
			LockTimeout:         3 * time.Second,
			ClassifierCacheSize: 4096,
		},
		Patterns: types.DefaultPatternSet(),
		Archive: ArchiveConfig{
			Retention: 100,
			Keywords:  types.DefaultKeywordVocabulary(),
		},
		Watch: WatchConfig{
			Interval:            2 * time.Second,
			MaintenanceSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// applyEnv overlays MEMBANK_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	r := &cfg.Rotation
	r.Threshold = getEnvInt("MEMBANK_ROTATION_THRESHOLD", r.Threshold)
	r.HeaderLineBudget = getEnvInt("MEMBANK_HEADER_LINE_BUDGET", r.HeaderLineBudget)
	r.MinImportantLines = getEnvInt("MEMBANK_MIN_IMPORTANT_LINES", r.MinImportantLines)
	r.LockTimeout = getEnvDuration("MEMBANK_LOCK_TIMEOUT", r.LockTimeout)
	r.ClassifierCacheSize = getEnvInt("MEMBANK_CLASSIFIER_CACHE_SIZE", r.ClassifierCacheSize)
	r.ForceFailure = getEnvBool("MEMBANK_FORCE_FAILURE", r.ForceFailure)

	p := &cfg.Patterns
	p.Critical = getEnvList("MEMBANK_PATTERNS_CRITICAL", ";;", p.Critical)
	p.Important = getEnvList("MEMBANK_PATTERNS_IMPORTANT", ";;", p.Important)
	p.Normal = getEnvList("MEMBANK_PATTERNS_NORMAL", ";;", p.Normal)
	p.Temporary = getEnvList("MEMBANK_PATTERNS_TEMPORARY", ";;", p.Temporary)

	a := &cfg.Archive
	a.Dir = getEnv("MEMBANK_ARCHIVE_DIR", a.Dir)
	a.IndexPath = getEnv("MEMBANK_INDEX_PATH", a.IndexPath)
	a.Retention = getEnvInt("MEMBANK_ARCHIVE_RETENTION", a.Retention)
	a.Keywords = getEnvList("MEMBANK_KEYWORDS", ",", a.Keywords)

	cfg.Catalog.Enabled = getEnvBool("MEMBANK_CATALOG_ENABLED", cfg.Catalog.Enabled)
	cfg.Catalog.Path = getEnv("MEMBANK_CATALOG_PATH", cfg.Catalog.Path)

	cfg.Events.Dir = getEnv("MEMBANK_EVENTS_DIR", cfg.Events.Dir)

	cfg.Watch.Interval = getEnvDuration("MEMBANK_WATCH_INTERVAL", cfg.Watch.Interval)
	cfg.Watch.MaintenanceSchedule = getEnv("MEMBANK_MAINTENANCE_SCHEDULE", cfg.Watch.MaintenanceSchedule)

	cfg.Logging.Level = getEnv("MEMBANK_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("MEMBANK_LOG_FORMAT", cfg.Logging.Format)
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Rotation.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("rotation threshold must be positive, got %d", c.Rotation.Threshold))
	}
	if c.Rotation.HeaderLineBudget < 0 {
		errs = append(errs, fmt.Errorf("header line budget must not be negative, got %d", c.Rotation.HeaderLineBudget))
	}
	if c.Rotation.MinImportantLines < 0 {
		errs = append(errs, fmt.Errorf("min important lines must not be negative, got %d", c.Rotation.MinImportantLines))
	}
	if c.Rotation.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock timeout must be positive, got %s", c.Rotation.LockTimeout))
	}
	if c.Rotation.ClassifierCacheSize < 0 {
		errs = append(errs, fmt.Errorf("classifier cache size must not be negative, got %d", c.Rotation.ClassifierCacheSize))
	}
	if c.Archive.Retention <= 0 {
		errs = append(errs, fmt.Errorf("archive retention must be positive, got %d", c.Archive.Retention))
	}
	if len(c.Patterns.Critical) == 0 {
		errs = append(errs, errors.New("at least one critical pattern is required"))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w: %w", types.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ArchiveDirFor returns the archive directory used for a notes file.
func (c *Config) ArchiveDirFor(notesPath string) string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(filepath.Dir(notesPath), "archive")
}

// IndexPathFor returns the index file used for an archive directory.
func (c *Config) IndexPathFor(archiveDir string) string {
	if c.Archive.IndexPath != "" {
		return c.Archive.IndexPath
	}
	return filepath.Join(archiveDir, "index.json")
}

// CatalogPathFor returns the catalog database used for an archive directory.
func (c *Config) CatalogPathFor(archiveDir string) string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(archiveDir, "catalog.db")
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration such as "3s" or "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits an environment variable on sep, dropping empty items.
func getEnvList(key, sep string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
