package analysis

import (
	"os"

	"github.com/scrypster/membank/pkg/types"
)

// Presence weights. A category contributes its weight once if any of its
// patterns matches anywhere in the file, regardless of how many times.
const (
	weightCritical  = 80
	weightImportant = 70
	weightNormal    = 30
	weightTemporary = -10
)

// Breakdown reports which categories are present in a piece of content and
// the resulting score.
type Breakdown struct {
	Critical  bool
	Important bool
	Normal    bool
	Temporary bool
	Score     int
}

// Scorer computes importance scores in [types.ScoreMin, types.ScoreMax].
// The score answers "should this file be protected from rotation", so it is
// presence-based: one critical line and fifty critical lines score the same.
type Scorer struct {
	classifier *Classifier
}

// NewScorer creates a scorer that uses the classifier's pattern sets.
func NewScorer(classifier *Classifier) *Scorer {
	return &Scorer{classifier: classifier}
}

// Score reads the file at path and scores it. Missing, unreadable and empty
// files score 0.
func (s *Scorer) Score(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ScoreMin
	}
	return s.ScoreContent(string(data))
}

// ScoreContent scores in-memory content.
func (s *Scorer) ScoreContent(content string) int {
	return s.Breakdown(content).Score
}

// Breakdown scores content and reports which categories contributed.
func (s *Scorer) Breakdown(content string) Breakdown {
	b := Breakdown{}
	if content == "" {
		return b
	}

	b.Critical = s.classifier.Matches(types.CategoryCritical, content)
	b.Important = s.classifier.Matches(types.CategoryImportant, content)
	b.Normal = s.classifier.Matches(types.CategoryNormal, content)
	b.Temporary = s.classifier.Matches(types.CategoryTemporary, content)

	score := 0
	if b.Critical {
		score += weightCritical
	}
	if b.Important {
		score += weightImportant
	}
	if b.Normal {
		score += weightNormal
	}
	if b.Temporary {
		score += weightTemporary
	}
	b.Score = clampScore(score)
	return b
}

func clampScore(score int) int {
	return min(max(score, types.ScoreMin), types.ScoreMax)
}
