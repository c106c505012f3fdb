package law

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText lowercases the input, strips diacritics, and collapses
// whitespace. Portal text is largely Portuguese, so accent folding is what
// makes substring search usable ("publicação" matches "publicacao").
func NormalizeText(s string) string {
	// Transformers carry state; build per call so concurrent callers are safe.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
