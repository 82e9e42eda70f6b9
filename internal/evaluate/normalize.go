package evaluate

import (
	"strings"
	"unicode"
)

// Normalize lowercases s, removes punctuation, symbols and underscores,
// and collapses runs of whitespace into single spaces.
func Normalize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			return ' '
		default:
			return unicode.ToLower(r)
		}
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}
