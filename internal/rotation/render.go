package rotation

import (
	"fmt"
	"strings"
	"time"
)

// renderOverhead is the number of scaffold lines Render adds around the
// header and preserved lines.
const renderOverhead = 9

// Render builds the rewritten active file for a decision. archivePath is
// the location of the archive holding the full pre-rotation content.
func Render(d *Decision, archivePath string, at time.Time) string {
	ts := at.UTC().Format(time.RFC3339)

	var b strings.Builder
	for _, line := range d.Header {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "%srotated at=%s -->\n", ScaffoldPrefix, ts)
	fmt.Fprintf(&b, "> Rotated %s: %d of %d lines archived, %d preserved.\n",
		ts, d.LineCount-len(d.Header)-len(d.Critical)-len(d.Important), d.LineCount, len(d.Critical)+len(d.Important))
	b.WriteByte('\n')

	b.WriteString("## Preserved Critical\n")
	for _, line := range d.Critical {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	b.WriteString("## Preserved Important\n")
	for _, line := range d.Important {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "%sarchive path=%s -->\n", ScaffoldPrefix, archivePath)
	fmt.Fprintf(&b, "Archived content: %s\n", archivePath)

	return b.String()
}
