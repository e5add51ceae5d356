// Package sqlite implements the optional full-text archive catalog on top of
// SQLite FTS5 (modernc.org/sqlite, no cgo).
//
// The catalog is a derived view: the JSON index stays authoritative and the
// catalog can always be rebuilt from the archive files.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/membank/pkg/types"
)

// DefaultSearchLimit is used when SearchOptions.Limit is zero.
const DefaultSearchLimit = 20

// SearchOptions narrows a catalog search.
type SearchOptions struct {
	Agent string
	Limit int
}

// Hit is one catalog search result.
type Hit struct {
	Entry   types.ArchiveEntry
	Snippet string
}

// Catalog is the SQLite-backed archive catalog.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open catalog: %w", err)
	}

	// One writer at a time; the catalog is only touched from one goroutine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create catalog schema: %w", err)
	}

	return &Catalog{db: db, path: path}, nil
}

// Path returns the database path.
func (c *Catalog) Path() string {
	return c.path
}

// Close checkpoints the WAL and closes the database.
func (c *Catalog) Close() error {
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return c.db.Close()
}

// Upsert stores entry and the archived content, replacing any previous row
// for the same archive file.
func (c *Catalog) Upsert(ctx context.Context, entry types.ArchiveEntry, content string) error {
	keywords := entry.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("sqlite: encode keywords: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM archives_fts WHERE archive_file = ?`, entry.ArchiveFile); err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", entry.ArchiveFile, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO archives (
			archive_file, id, timestamp, agent, original_size, original_bytes,
			archived_size, content_summary, keywords, importance_score, rotation_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(archive_file) DO UPDATE SET
			id = excluded.id,
			timestamp = excluded.timestamp,
			agent = excluded.agent,
			original_size = excluded.original_size,
			original_bytes = excluded.original_bytes,
			archived_size = excluded.archived_size,
			content_summary = excluded.content_summary,
			keywords = excluded.keywords,
			importance_score = excluded.importance_score,
			rotation_reason = excluded.rotation_reason
	`,
		entry.ArchiveFile, entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Agent,
		entry.OriginalSize, entry.OriginalBytes, entry.ArchivedSize, entry.ContentSummary,
		string(keywordsJSON), entry.ImportanceScore, entry.RotationReason,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", entry.ArchiveFile, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO archives_fts (archive_file, agent, summary, keywords, content) VALUES (?, ?, ?, ?, ?)`,
		entry.ArchiveFile, entry.Agent, entry.ContentSummary, strings.Join(keywords, " "), content,
	)
	if err != nil {
		return fmt.Errorf("sqlite: index %s: %w", entry.ArchiveFile, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit upsert: %w", err)
	}
	return nil
}

// Delete removes the rows for the named archive files.
func (c *Catalog) Delete(ctx context.Context, archiveFiles ...string) error {
	if len(archiveFiles) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, name := range archiveFiles {
		if _, err := tx.ExecContext(ctx, `DELETE FROM archives_fts WHERE archive_file = ?`, name); err != nil {
			return fmt.Errorf("sqlite: delete %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM archives WHERE archive_file = ?`, name); err != nil {
			return fmt.Errorf("sqlite: delete %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Reset removes every row.
func (c *Catalog) Reset(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM archives_fts`, `DELETE FROM archives`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: reset: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of catalogued archives.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archives`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// Search runs a full-text query over entry text and archived content, best
// match first. An empty query lists the newest entries.
func (c *Catalog) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(query) == "" {
		rows, err = c.db.QueryContext(ctx, `
			SELECT `+entryColumns+`, ''
			FROM archives a
			WHERE (? = '' OR a.agent = ?)
			ORDER BY a.timestamp DESC
			LIMIT ?
		`, opts.Agent, opts.Agent, opts.Limit)
	} else {
		match := sanitiseFTSQuery(query)
		if match == "" {
			return nil, nil
		}
		rows, err = c.db.QueryContext(ctx, `
			SELECT `+entryColumns+`, snippet(archives_fts, 4, '[', ']', '...', 12)
			FROM archives_fts
			JOIN archives a ON a.archive_file = archives_fts.archive_file
			WHERE archives_fts MATCH ? AND (? = '' OR a.agent = ?)
			ORDER BY rank
			LIMIT ?
		`, match, opts.Agent, opts.Agent, opts.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		hit, err := scanHit(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: search scan: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

const entryColumns = `a.archive_file, a.id, a.timestamp, a.agent, a.original_size, a.original_bytes,
	a.archived_size, a.content_summary, a.keywords, a.importance_score, a.rotation_reason`

func scanHit(rows *sql.Rows) (Hit, error) {
	var (
		hit          Hit
		ts, keywords string
	)
	e := &hit.Entry
	err := rows.Scan(
		&e.ArchiveFile, &e.ID, &ts, &e.Agent, &e.OriginalSize, &e.OriginalBytes,
		&e.ArchivedSize, &e.ContentSummary, &keywords, &e.ImportanceScore, &e.RotationReason,
		&hit.Snippet,
	)
	if err != nil {
		return hit, err
	}
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return hit, fmt.Errorf("timestamp %q: %w", ts, err)
	}
	if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
		return hit, fmt.Errorf("keywords: %w", err)
	}
	return hit, nil
}
