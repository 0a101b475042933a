package usecase

import (
	"strings"
	"unicode"
)

// normalizeName lower-cases, trims and drops every rune that is neither a word
// character nor whitespace.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// wordOverlap is the share of filter words also present in the document.
func wordOverlap(filter, doc map[string]struct{}) float64 {
	if len(filter) == 0 {
		return 0
	}
	matches := 0
	for w := range filter {
		if _, ok := doc[w]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(filter))
}
