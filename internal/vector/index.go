// Package vector provides append-only vector indexes searched by squared L2 distance.
package vector

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrOutOfRange is returned for a position outside the index.
	ErrOutOfRange = errors.New("vector position out of range")
)

// VectorIndex is an ordered, append-only sequence of fixed-dimension vectors.
// Position i is the i-th vector ever appended; positions never move.
// Distances are squared Euclidean and no normalization is applied, so callers
// whose embeddings are only cosine-meaningful must normalize before Append.
type VectorIndex interface {
	// Append adds vectors in order. Either all vectors are added or none.
	Append(ctx context.Context, vectors [][]float32) error
	// Search returns up to k hits ordered by ascending distance, ties by lower position.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Vector(position int) ([]float32, error)
	// Vectors returns the stored vectors in position order. Callers must not modify them.
	Vectors() [][]float32
	// Truncate drops every vector at position >= n.
	Truncate(n int) error
	Save(path string) error
	// Load replaces the contents with the index stored at path. A missing
	// file leaves an empty index.
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Hit is a single search result.
type Hit struct {
	Position int
	Distance float32
}
