// Package types defines the data model shared by the membank packages:
// line categories, archive entries, the archive index document and the
// rotation state machine.
package types

import "time"

const (
	// ScoreMin is the lowest importance score a file can receive.
	ScoreMin = 0

	// ScoreMax is the highest importance score a file can receive.
	ScoreMax = 100
)

// MemoryFile describes the active notes file of one agent.
type MemoryFile struct {
	Path      string
	Lines     int
	Bytes     int64
	ModTime   time.Time
	Agent     string
	HasBackup bool
}

// ArchiveEntry records one rotation event. Entries are immutable once
// appended to the index.
type ArchiveEntry struct {
	// ID is a time-ordered UUID (v7) generated when the entry is created.
	ID string `json:"id,omitempty"`

	// Timestamp is the rotation time in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Agent is the owner of the rotated notes file.
	Agent string `json:"agent"`

	// OriginalSize is the pre-rotation line count.
	OriginalSize int `json:"original_size"`

	// OriginalBytes is the pre-rotation size in bytes.
	OriginalBytes int64 `json:"original_bytes,omitempty"`

	// ArchivedSize is the line count of the active file after rotation.
	ArchivedSize int `json:"archived_size"`

	// ArchiveFile is the archive file name, relative to the archive directory.
	ArchiveFile string `json:"archive_file"`

	// ContentSummary is a one-line description of what was archived.
	ContentSummary string `json:"content_summary"`

	// Keywords is the sorted, de-duplicated set of vocabulary markers found
	// in the archived content.
	Keywords []string `json:"keywords"`

	// ImportanceScore is the score of the file before rotation.
	ImportanceScore int `json:"importance_score"`

	// RotationReason explains why the rotation was triggered.
	RotationReason string `json:"rotation_reason,omitempty"`
}

// IndexDocument is the on-disk layout of the archive index.
type IndexDocument struct {
	Archives []ArchiveEntry `json:"archives"`
}

// KeywordCount pairs a keyword with the number of entries carrying it.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// IndexStats summarises an archive index.
type IndexStats struct {
	Count             int            `json:"count"`
	TotalOriginalSize int            `json:"total_original_size"`
	TotalArchivedSize int            `json:"total_archived_size"`
	TotalBytes        int64          `json:"total_bytes"`
	First             time.Time      `json:"first"`
	Last              time.Time      `json:"last"`
	TopKeywords       []KeywordCount `json:"top_keywords"`
	Degraded          bool           `json:"degraded,omitempty"`
}
