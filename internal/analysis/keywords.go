package analysis

import (
	"regexp"
	"sort"
)

// KeywordExtractor finds vocabulary markers in archived content. Matching
// is lexical: whole words, case-sensitive.
type KeywordExtractor struct {
	vocabulary []string
	patterns   []*regexp.Regexp
}

// NewKeywordExtractor builds an extractor for the given vocabulary.
// Duplicate and empty words are ignored.
func NewKeywordExtractor(vocabulary []string) *KeywordExtractor {
	k := &KeywordExtractor{}
	seen := make(map[string]bool, len(vocabulary))
	for _, word := range vocabulary {
		if word == "" || seen[word] {
			continue
		}
		seen[word] = true
		k.vocabulary = append(k.vocabulary, word)
		k.patterns = append(k.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(word)+`\b`))
	}
	return k
}

// Vocabulary returns the de-duplicated vocabulary in configuration order.
func (k *KeywordExtractor) Vocabulary() []string {
	return append([]string(nil), k.vocabulary...)
}

// Extract returns the sorted set of vocabulary words present in content.
// The result is never nil so that it serialises as an empty JSON array.
func (k *KeywordExtractor) Extract(content string) []string {
	found := []string{}
	for i, re := range k.patterns {
		if re.MatchString(content) {
			found = append(found, k.vocabulary[i])
		}
	}
	sort.Strings(found)
	return found
}
