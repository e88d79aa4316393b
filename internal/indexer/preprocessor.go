package indexer

import (
	"strings"
	"unicode"
)

// Preprocess trims text and collapses every whitespace run to one space.
// NUL bytes, which some PDF extractions emit, are dropped.
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		switch {
		case r == 0:
			continue
		case unicode.IsSpace(r):
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		default:
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}
