package rotation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Layout(t *testing.T) {
	p := newTestPolicy(t, defaultConfig())

	lines := append([]string{"# Bob notes", ""}, filler(498)...)
	lines[100] = "CRITICAL: disk full"
	lines[200] = "TODO: add retry"

	d := p.Evaluate(joinLines(lines))
	require.True(t, d.Needed)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	out := Render(d, "/bank/archive/20260304-050607-notes.md", at)
	got := SplitLines(out)

	assert.Equal(t, "# Bob notes", got[0])
	assert.Equal(t, ScaffoldPrefix+"rotated at=2026-03-04T05:06:07Z -->", got[1])
	assert.Contains(t, out, "## Preserved Critical\nCRITICAL: disk full\n")
	assert.Contains(t, out, "## Preserved Important\nTODO: add retry\n")
	assert.Equal(t, "Archived content: /bank/archive/20260304-050607-notes.md", got[len(got)-1])
	assert.Len(t, got, len(d.Header)+renderOverhead+len(d.Critical)+len(d.Important))
	assert.Less(t, len(got), d.Threshold)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestRender_SecondRotationIsStable(t *testing.T) {
	p := newTestPolicy(t, Config{Threshold: 30, HeaderLineBudget: 5, MinImportantLines: 5})

	lines := append([]string{"# Carol notes", ""}, filler(40)...)
	lines[5] = "SECURITY: token leaked"
	first := Render(p.Evaluate(joinLines(lines)), "a1.md", time.Now())

	grown := first + joinLines(filler(30))
	d := p.Evaluate(grown)
	require.True(t, d.Needed)
	assert.Equal(t, []string{"# Carol notes"}, d.Header)
	assert.Equal(t, []string{"SECURITY: token leaked"}, d.Critical)

	second := Render(d, "a2.md", time.Now())
	assert.Equal(t, 1, strings.Count(second, "SECURITY: token leaked"))
	assert.NotContains(t, second, "a1.md -->")
}
