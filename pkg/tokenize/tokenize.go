// Package tokenize splits phrases and review text into the lower-cased word
// tokens shared by the embedding table, the BM25 index and the position index.
package tokenize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MinLen and MaxLen bound token length in runes; anything outside is dropped.
	MinLen = 2
	MaxLen = 15
)

// Tokenize lower-cases s and returns its word runs that fall within
// [MinLen, MaxLen] runes. A word run is letters and underscores; digits and
// punctuation separate tokens. Runs that start with an underscore are dropped.
func Tokenize(s string) []string {
	var tokens []string
	start := -1
	lower := strings.ToLower(s)

	flush := func(end int) {
		if start < 0 {
			return
		}
		tok := lower[start:end]
		start = -1
		n := utf8.RuneCountInString(tok)
		if n < MinLen || n > MaxLen || tok[0] == '_' {
			return
		}
		tokens = append(tokens, tok)
	}

	for i, r := range lower {
		if unicode.IsLetter(r) || r == '_' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(lower))
	return tokens
}

// Count returns the number of tokens Tokenize would produce for s.
func Count(s string) int {
	return len(Tokenize(s))
}
