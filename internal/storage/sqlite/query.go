package sqlite

import "strings"

// ftsSpecial lists characters FTS5 would read as syntax.
var ftsSpecial = strings.NewReplacer(
	`"`, ` `,
	`'`, ` `,
	`(`, ` `,
	`)`, ` `,
	`*`, ` `,
	`-`, ` `,
	`^`, ` `,
	`?`, ` `,
	`:`, ` `,
	`+`, ` `,
	`{`, ` `,
	`}`, ` `,
)

// stopWords carry no discriminative value in notes.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"and": true, "or": true, "not": true, "it": true, "this": true, "that": true,
}

// sanitiseFTSQuery converts free-form input into a safe FTS5 MATCH
// expression: special characters are stripped, stop words dropped and each
// remaining word becomes a quoted prefix term, OR-ed together. It returns
// an empty string when nothing searchable is left.
//
// Example: "disk full?" → `"disk"* OR "full"*`
func sanitiseFTSQuery(query string) string {
	words := strings.Fields(strings.ToLower(ftsSpecial.Replace(query)))

	var terms []string
	for _, w := range words {
		if !stopWords[w] && len(w) >= 2 {
			terms = append(terms, `"`+w+`"*`)
		}
	}
	if len(terms) == 0 {
		for _, w := range words {
			terms = append(terms, `"`+w+`"`)
		}
	}
	return strings.Join(terms, " OR ")
}
