package matching

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultPhraseThreshold is the minimum similarity for a spoken phrase to
// match the enrolled one.
const DefaultPhraseThreshold = 0.80

// NormalizePhrase removes diacritics and punctuation, lowercases and
// collapses whitespace.
func NormalizePhrase(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// PhraseSimilarity returns the SequenceMatcher ratio of the normalized
// phrases, in [0,1]. An empty side scores 0.
func PhraseSimilarity(enrolled, spoken string) float64 {
	a := NormalizePhrase(enrolled)
	b := NormalizePhrase(spoken)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}
