package keyword

import (
	"sort"
	"strings"
	"unicode"
)

// Suggester proposes corrected queries from the terms of an index.
type Suggester struct {
	maxDistance int
}

// NewSuggester returns a Suggester that accepts corrections within
// maxDistance edits. Values below 1 default to 2.
func NewSuggester(maxDistance int) *Suggester {
	if maxDistance < 1 {
		maxDistance = 2
	}
	return &Suggester{maxDistance: maxDistance}
}

// Suggest rewrites query, replacing each unknown term with the closest
// dictionary term. It returns "" when nothing was corrected.
func (s *Suggester) Suggest(query string, dict map[string]int) string {
	if len(dict) == 0 {
		return ""
	}
	terms := tokenize(query)
	corrected := make([]string, 0, len(terms))
	changed := false
	for _, term := range terms {
		if _, ok := dict[term]; ok {
			corrected = append(corrected, term)
			continue
		}
		best, ok := s.closest(term, dict)
		if !ok {
			corrected = append(corrected, term)
			continue
		}
		corrected = append(corrected, best)
		changed = true
	}
	if !changed {
		return ""
	}
	return strings.Join(corrected, " ")
}

type candidate struct {
	term     string
	distance int
	freq     int
}

func (s *Suggester) closest(term string, dict map[string]int) (string, bool) {
	n := len([]rune(term))
	var cands []candidate
	for t, freq := range dict {
		diff := len([]rune(t)) - n
		if diff > s.maxDistance || -diff > s.maxDistance {
			continue
		}
		if d := EditDistance(term, t); d <= s.maxDistance {
			cands = append(cands, candidate{term: t, distance: d, freq: freq})
		}
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		if cands[i].freq != cands[j].freq {
			return cands[i].freq > cands[j].freq
		}
		return cands[i].term < cands[j].term
	})
	return cands[0].term, true
}

// EditDistance is the Levenshtein distance between a and b, counted in runes.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// roughly matching the standard analyzer.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
