// Package analysis classifies notes content by importance. It provides the
// ordered pattern classifier, the presence-based importance scorer and the
// lexical keyword extractor used when archives are indexed.
package analysis

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/membank/pkg/types"
)

// matcher is the compiled pattern list of one category.
type matcher []*regexp.Regexp

func (m matcher) match(text string) bool {
	for _, re := range m {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Classifier assigns categories to lines using ordered pattern matching.
// Critical patterns are tried first, then Important, then Temporary; the
// first category with a matching pattern wins. Unmatched lines are Normal.
//
// Results are memoised per line in a least-recently-used cache owned by the
// Classifier instance. A Classifier is safe for concurrent use.
type Classifier struct {
	matchers map[types.Category]matcher
	cache    *lru.Cache[string, types.Category]
}

// NewClassifier compiles the pattern set. cacheSize bounds the number of
// memoised lines; zero disables the cache.
func NewClassifier(patterns types.PatternSet, cacheSize int) (*Classifier, error) {
	c := &Classifier{matchers: make(map[types.Category]matcher, len(types.AllCategories))}

	for _, cat := range types.AllCategories {
		var m matcher
		for _, expr := range patterns.For(cat) {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%w: %s pattern %q: %v", types.ErrInvalidConfig, cat, expr, err)
			}
			m = append(m, re)
		}
		c.matchers[cat] = m
	}

	if cacheSize > 0 {
		cache, err := lru.New[string, types.Category](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("analysis: create classifier cache: %w", err)
		}
		c.cache = cache
	}

	return c, nil
}

// Classify returns the category of a single line.
func (c *Classifier) Classify(line string) types.Category {
	if c.cache != nil {
		if cat, ok := c.cache.Get(line); ok {
			return cat
		}
	}

	cat := types.CategoryNormal
	for _, candidate := range types.ClassificationOrder {
		if c.matchers[candidate].match(line) {
			cat = candidate
			break
		}
	}

	if c.cache != nil {
		c.cache.Add(line, cat)
	}
	return cat
}

// Matches reports whether any pattern of cat matches anywhere in text.
// Unlike Classify it does not apply precedence, so a line can match
// several categories.
func (c *Classifier) Matches(cat types.Category, text string) bool {
	return c.matchers[cat].match(text)
}

// Counts classifies each line and returns the number of lines per category.
func (c *Classifier) Counts(lines []string) map[types.Category]int {
	counts := make(map[types.Category]int, len(types.AllCategories))
	for _, line := range lines {
		counts[c.Classify(line)]++
	}
	return counts
}

// CacheLen returns the number of memoised lines.
func (c *Classifier) CacheLen() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
