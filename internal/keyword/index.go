// Package keyword provides a full-text index over stored chunks.
//
// The index is derived state: it is rebuilt from the document store on
// startup and updated after every successful commit, so it never needs its
// own persistence.
package keyword

// Hit is a single keyword match, identified by its store position.
type Hit struct {
	Position int
	Score    float64
}

// SearchOptions tunes a keyword query. Nil means defaults.
type SearchOptions struct {
	// FilenameBoost multiplies matches in the filename field. Defaults to 2.
	FilenameBoost float64
	// Fuzziness is the edit distance used when an exact query finds nothing.
	// Zero disables the fuzzy retry.
	Fuzziness int
}

func (o *SearchOptions) withDefaults() SearchOptions {
	out := SearchOptions{FilenameBoost: 2, Fuzziness: 1}
	if o == nil {
		return out
	}
	if o.FilenameBoost > 0 {
		out.FilenameBoost = o.FilenameBoost
	}
	out.Fuzziness = min(max(o.Fuzziness, 0), 2)
	return out
}
