package sqlite

// catalogSchema creates the archive catalog. archives holds one row per
// index entry; archives_fts indexes the entry text together with the full
// archived content.
const catalogSchema = `
CREATE TABLE IF NOT EXISTS archives (
	archive_file     TEXT PRIMARY KEY,
	id               TEXT NOT NULL DEFAULT '',
	timestamp        TEXT NOT NULL,
	agent            TEXT NOT NULL,
	original_size    INTEGER NOT NULL DEFAULT 0,
	original_bytes   INTEGER NOT NULL DEFAULT 0,
	archived_size    INTEGER NOT NULL DEFAULT 0,
	content_summary  TEXT NOT NULL DEFAULT '',
	keywords         TEXT NOT NULL DEFAULT '[]',
	importance_score INTEGER NOT NULL DEFAULT 0,
	rotation_reason  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_archives_agent ON archives(agent);
CREATE INDEX IF NOT EXISTS idx_archives_timestamp ON archives(timestamp);

CREATE VIRTUAL TABLE IF NOT EXISTS archives_fts USING fts5(
	archive_file UNINDEXED,
	agent,
	summary,
	keywords,
	content,
	tokenize = 'unicode61'
);
`
