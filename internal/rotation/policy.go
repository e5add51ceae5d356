// Package rotation decides when a notes file must rotate and what the
// rewritten file keeps.
//
// The trigger is a plain line-count check against the threshold. Importance
// only matters after the trigger fires: Critical lines are always kept,
// Important lines are kept up to a cap, everything else goes to the archive.
package rotation

import (
	"strings"

	"github.com/scrypster/membank/internal/analysis"
	"github.com/scrypster/membank/pkg/types"
)

// ScaffoldPrefix marks lines written by a rotation (markers and footer).
// Such lines are never carried over or preserved by later rotations.
const ScaffoldPrefix = "<!-- membank:"

// Config holds the policy settings.
type Config struct {
	Threshold         int
	HeaderLineBudget  int
	MinImportantLines int
}

// Decision is the outcome of evaluating one notes file. It is consumed
// immediately by the archive manager and never persisted.
type Decision struct {
	Needed    bool
	LineCount int
	Threshold int

	// Header is the leading heading block carried into the new file.
	Header []string

	// Critical and Important are the preserved body lines, in file order.
	Critical  []string
	Important []string

	// Archived lists the body lines that are not preserved.
	Archived []string

	// Counts is the number of body lines per category.
	Counts map[types.Category]int

	// DroppedImportant is the number of Important lines left out because of
	// the cap or the line budget.
	DroppedImportant int

	// Overflow is set when Critical lines alone do not fit under the
	// threshold. They are kept anyway; the rewritten file will be at or over
	// the threshold.
	Overflow bool
}

// State reports the rotation state implied by the decision.
func (d *Decision) State() types.RotationState {
	if d.Needed {
		return types.StateRotationNeeded
	}
	return types.StateActive
}

// Preserved returns every body line kept in the rewritten file.
func (d *Decision) Preserved() []string {
	out := make([]string, 0, len(d.Critical)+len(d.Important))
	out = append(out, d.Critical...)
	return append(out, d.Important...)
}

// Policy evaluates notes content against the rotation settings.
type Policy struct {
	cfg        Config
	classifier *analysis.Classifier
}

// NewPolicy creates a policy.
func NewPolicy(cfg Config, classifier *analysis.Classifier) *Policy {
	return &Policy{cfg: cfg, classifier: classifier}
}

// Threshold returns the configured rotation threshold.
func (p *Policy) Threshold() int {
	return p.cfg.Threshold
}

// NeedsRotation reports whether a file with lineCount lines must rotate.
// A file with exactly Threshold lines does not.
func (p *Policy) NeedsRotation(lineCount int) bool {
	return lineCount > p.cfg.Threshold
}

// Evaluate decides whether content must rotate and, if so, partitions it.
func (p *Policy) Evaluate(content string) *Decision {
	lines := SplitLines(content)
	d := &Decision{
		LineCount: len(lines),
		Threshold: p.cfg.Threshold,
		Needed:    p.NeedsRotation(len(lines)),
	}
	if !d.Needed {
		return d
	}

	headerBudget := min(p.cfg.HeaderLineBudget, max(0, p.cfg.Threshold-1-renderOverhead))
	header, body := splitHeader(lines, headerBudget)
	d.Header = header

	var important []string
	d.Counts = make(map[types.Category]int, len(types.AllCategories))
	for _, line := range body {
		if strings.HasPrefix(strings.TrimSpace(line), ScaffoldPrefix) {
			continue
		}
		cat := p.classifier.Classify(line)
		d.Counts[cat]++
		switch cat {
		case types.CategoryCritical:
			d.Critical = append(d.Critical, line)
		case types.CategoryImportant:
			important = append(important, line)
		default:
			d.Archived = append(d.Archived, line)
		}
	}

	budget := p.cfg.Threshold - 1 - len(header) - renderOverhead
	if len(d.Critical) > budget {
		d.Overflow = true
	}

	allowance := min(p.cfg.MinImportantLines, max(0, budget-len(d.Critical)))
	if len(important) > allowance {
		// Keep the most recent Important lines.
		cut := len(important) - allowance
		d.Archived = append(d.Archived, important[:cut]...)
		d.DroppedImportant = cut
		important = important[cut:]
	}
	d.Important = important

	return d
}

// splitHeader separates the leading heading block from the body. The block
// starts with a Markdown heading and ends at the first blank or scaffold
// line, capped at budget lines.
func splitHeader(lines []string, budget int) (header, body []string) {
	if budget <= 0 || len(lines) == 0 || !strings.HasPrefix(lines[0], "#") {
		return nil, lines
	}
	n := 0
	for n < len(lines) && n < budget {
		line := strings.TrimSpace(lines[n])
		if line == "" || strings.HasPrefix(line, ScaffoldPrefix) {
			break
		}
		n++
	}
	return lines[:n], lines[n:]
}

// SplitLines splits content into lines. A trailing newline does not start
// an extra line, and empty content has no lines.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

// CountLines returns len(SplitLines(content)) without allocating.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
