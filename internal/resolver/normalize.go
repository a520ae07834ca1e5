package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds an exercise name into its matching key: lowercase, no
// diacritics, punctuation removed, single spaces between words.
//
// Hyphens, slashes and underscores separate words ("T-Bar" matches "t bar").
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '/' || r == '_':
			space = true
		}
	}
	return b.String()
}

// stripQualifier removes a trailing parenthetical such as "(Barbell)".
func stripQualifier(title string) string {
	i := strings.Index(title, "(")
	if i <= 0 {
		return ""
	}
	return strings.TrimSpace(title[:i])
}

// maxDistance is the largest edit distance accepted for a query of n runes.
func maxDistance(n int) int {
	d := (n + 3) / 4
	if d < 2 {
		return 2
	}
	return d
}
