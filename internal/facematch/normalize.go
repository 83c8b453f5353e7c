package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldName reduces an identity name to its search form: no diacritics,
// lower case, dashes and runs of whitespace collapsed to single spaces.
func FoldName(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.ReplaceAll(folded, "-", " "))
	return strings.Join(strings.Fields(folded), " ")
}

// NameMatches reports whether the folded label contains the folded query.
// An empty query matches nothing.
func NameMatches(label, query string) bool {
	q := FoldName(query)
	return q != "" && strings.Contains(FoldName(label), q)
}
