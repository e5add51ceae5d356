package types

import (
	"fmt"
	"strings"
)

// Category is the importance class assigned to a line of notes.
// Categories are ordered by severity; Critical is the highest.
type Category int

const (
	// CategoryNormal is assigned to lines that match no higher category.
	CategoryNormal Category = iota

	// CategoryTemporary marks scratch, debug and work-in-progress lines.
	CategoryTemporary

	// CategoryImportant marks TODOs, decisions and action items.
	CategoryImportant

	// CategoryCritical marks errors, security findings and breaking changes.
	CategoryCritical
)

// ClassificationOrder is the order in which category patterns are tried.
// The first category with a matching pattern wins, so a line containing
// both TODO and ERROR is Critical. Normal is the fallback and is not listed.
var ClassificationOrder = []Category{
	CategoryCritical,
	CategoryImportant,
	CategoryTemporary,
}

// AllCategories lists every category, highest severity first.
var AllCategories = []Category{
	CategoryCritical,
	CategoryImportant,
	CategoryNormal,
	CategoryTemporary,
}

// String returns the lowercase category name.
func (c Category) String() string {
	switch c {
	case CategoryCritical:
		return "critical"
	case CategoryImportant:
		return "important"
	case CategoryNormal:
		return "normal"
	case CategoryTemporary:
		return "temporary"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory converts a category name (case-insensitive) to a Category.
func ParseCategory(name string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "critical":
		return CategoryCritical, nil
	case "important":
		return CategoryImportant, nil
	case "normal":
		return CategoryNormal, nil
	case "temporary", "temp":
		return CategoryTemporary, nil
	}
	return CategoryNormal, fmt.Errorf("%w: unknown category %q", ErrInvalidConfig, name)
}

// PatternSet holds the regular expressions for each category.
// Expressions use Go RE2 syntax.
type PatternSet struct {
	Critical  []string `yaml:"critical" json:"critical"`
	Important []string `yaml:"important" json:"important"`
	Normal    []string `yaml:"normal" json:"normal"`
	Temporary []string `yaml:"temporary" json:"temporary"`
}

// For returns the patterns configured for a category.
func (p PatternSet) For(c Category) []string {
	switch c {
	case CategoryCritical:
		return p.Critical
	case CategoryImportant:
		return p.Important
	case CategoryNormal:
		return p.Normal
	case CategoryTemporary:
		return p.Temporary
	}
	return nil
}

// DefaultPatternSet returns the marker conventions used in memory bank notes.
func DefaultPatternSet() PatternSet {
	return PatternSet{
		Critical:  []string{`\b(CRITICAL|ERROR|FATAL|SECURITY|BREAKING|VULNERABILITY)\b`},
		Important: []string{`\b(TODO|FIXME|DECISION|IMPORTANT|ACTION)\b`},
		Normal:    []string{`\b(NOTE|INFO|DONE|UPDATE|PROGRESS)\b`},
		Temporary: []string{`\b(TEMP|TMP|SCRATCH|DEBUG|WIP|TESTING)\b`},
	}
}

// DefaultKeywordVocabulary is the marker list scanned when an archive entry
// is indexed.
func DefaultKeywordVocabulary() []string {
	return []string{
		"CRITICAL", "ERROR", "SECURITY", "BREAKING",
		"TODO", "FIXME", "DECISION", "IMPORTANT",
		"NOTE", "BUG",
	}
}
