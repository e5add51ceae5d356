package index

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/membank/internal/analysis"
	"github.com/scrypster/membank/internal/archive"
	"github.com/scrypster/membank/internal/logging"
	"github.com/scrypster/membank/pkg/types"
)

// topKeywordLimit is the number of keywords reported by Stats.
const topKeywordLimit = 10

// SearchOptions narrows a search.
type SearchOptions struct {
	// Agent restricts results to one agent (exact match).
	Agent string

	// Limit caps the number of results; zero means no limit.
	Limit int
}

// Searcher answers queries over an index. It never writes.
//
// When the index cannot be decoded the searcher falls back to scanning the
// archive files directly, matching the term against their raw content.
type Searcher struct {
	index      *Index
	archiveDir string
	keywords   *analysis.KeywordExtractor
	logger     *zap.Logger
}

// NewSearcher creates a searcher. archiveDir and keywords are used by the
// fallback scan.
func NewSearcher(index *Index, archiveDir string, keywords *analysis.KeywordExtractor, logger *zap.Logger) *Searcher {
	if keywords == nil {
		keywords = analysis.NewKeywordExtractor(types.DefaultKeywordVocabulary())
	}
	return &Searcher{
		index:      index,
		archiveDir: archiveDir,
		keywords:   keywords,
		logger:     logging.OrNop(logger).Named("search"),
	}
}

// Search returns entries whose keywords or summary contain term,
// case-insensitively, newest first. An empty term matches every entry.
func (s *Searcher) Search(ctx context.Context, term string, opts SearchOptions) ([]types.ArchiveEntry, error) {
	needle := strings.ToLower(strings.TrimSpace(term))

	entries, err := s.index.List(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrCorruptIndex) {
			return nil, err
		}
		s.logger.Warn("index unreadable, scanning archives", zap.Error(err))
		return s.scan(needle, opts)
	}

	var results []types.ArchiveEntry
	for _, e := range entries {
		if opts.Agent != "" && e.Agent != opts.Agent {
			continue
		}
		if needle == "" || entryMatches(e, needle) {
			results = append(results, e)
		}
	}
	return limitNewestFirst(results, opts.Limit), nil
}

func entryMatches(e types.ArchiveEntry, needle string) bool {
	for _, k := range e.Keywords {
		if strings.Contains(strings.ToLower(k), needle) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(e.ContentSummary), needle)
}

// scan is the grep-style fallback over archive files.
func (s *Searcher) scan(needle string, opts SearchOptions) ([]types.ArchiveEntry, error) {
	files, bad, err := archive.Scan(s.archiveDir)
	if err != nil {
		return nil, err
	}
	for _, b := range bad {
		s.logger.Debug("skipping unreadable archive", zap.Error(b))
	}

	var results []types.ArchiveEntry
	for _, f := range files {
		if opts.Agent != "" && f.Header.Agent != opts.Agent {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(string(f.Body)), needle) {
			continue
		}
		results = append(results, EntryFromFile(f, s.keywords))
	}
	return limitNewestFirst(results, opts.Limit), nil
}

// EntryFromFile reconstructs an index entry from an archive file. Fields
// the archive does not record (rewritten size, score) are left zero.
func EntryFromFile(f *archive.File, keywords *analysis.KeywordExtractor) types.ArchiveEntry {
	ts := f.Header.ArchiveDate
	if ts.IsZero() {
		ts = f.ModTime.UTC()
	}
	return types.ArchiveEntry{
		Timestamp:      ts,
		Agent:          f.Header.Agent,
		OriginalSize:   f.Header.OriginalLines,
		OriginalBytes:  f.Header.OriginalBytes,
		ArchiveFile:    f.Name,
		ContentSummary: "recovered from archive " + f.Name,
		Keywords:       keywords.Extract(string(f.Body)),
		RotationReason: f.Header.Reason,
	}
}

func limitNewestFirst(entries []types.ArchiveEntry, limit int) []types.ArchiveEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Stats summarises the index. If the index is unreadable the numbers come
// from an archive scan and Degraded is set.
func (s *Searcher) Stats(ctx context.Context) (*types.IndexStats, error) {
	entries, err := s.index.List(ctx)
	degraded := false
	if err != nil {
		if !errors.Is(err, types.ErrCorruptIndex) {
			return nil, err
		}
		s.logger.Warn("index unreadable, computing stats from archives", zap.Error(err))
		if entries, err = s.scan("", SearchOptions{}); err != nil {
			return nil, err
		}
		degraded = true
	}

	stats := ComputeStats(entries)
	stats.Degraded = degraded
	return stats, nil
}

// ComputeStats aggregates entries.
func ComputeStats(entries []types.ArchiveEntry) *types.IndexStats {
	stats := &types.IndexStats{Count: len(entries), TopKeywords: []types.KeywordCount{}}
	counts := make(map[string]int)

	for i, e := range entries {
		stats.TotalOriginalSize += e.OriginalSize
		stats.TotalArchivedSize += e.ArchivedSize
		stats.TotalBytes += e.OriginalBytes
		if i == 0 || e.Timestamp.Before(stats.First) {
			stats.First = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(stats.Last) {
			stats.Last = e.Timestamp
		}
		for _, k := range e.Keywords {
			counts[k]++
		}
	}

	for k, n := range counts {
		stats.TopKeywords = append(stats.TopKeywords, types.KeywordCount{Keyword: k, Count: n})
	}
	sort.Slice(stats.TopKeywords, func(i, j int) bool {
		a, b := stats.TopKeywords[i], stats.TopKeywords[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Keyword < b.Keyword
	})
	if len(stats.TopKeywords) > topKeywordLimit {
		stats.TopKeywords = stats.TopKeywords[:topKeywordLimit]
	}
	return stats
}
