// Package docstore holds chunk text and metadata in insertion order, aligned
// position for position with the vector index.
package docstore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrOutOfRange is returned by Get for a position past the end of the store.
var ErrOutOfRange = errors.New("document position out of range")

// Store is an ordered, append-only sequence of chunks. It is not safe for
// concurrent use; the retriever serializes access together with the index.
type Store struct {
	chunks []models.Chunk
}

// New returns a store holding chunks.
func New(chunks ...models.Chunk) *Store {
	return &Store{chunks: slices.Clone(chunks)}
}

// Append adds chunks to the end of the store.
func (s *Store) Append(chunks ...models.Chunk) {
	s.chunks = append(s.chunks, chunks...)
}

// Get returns the chunk at position.
func (s *Store) Get(position int) (models.Chunk, error) {
	if position < 0 || position >= len(s.chunks) {
		return models.Chunk{}, fmt.Errorf("%w: %d (length %d)", ErrOutOfRange, position, len(s.chunks))
	}
	return s.chunks[position], nil
}

// All returns a copy of every chunk in order.
func (s *Store) All() []models.Chunk {
	return slices.Clone(s.chunks)
}

// Len returns the number of chunks.
func (s *Store) Len() int {
	return len(s.chunks)
}

// Truncate drops all chunks at position >= n. Only used to undo a batch that
// failed to persist.
func (s *Store) Truncate(n int) error {
	if n < 0 || n > len(s.chunks) {
		return fmt.Errorf("%w: truncate to %d (length %d)", ErrOutOfRange, n, len(s.chunks))
	}
	clear(s.chunks[n:])
	s.chunks = s.chunks[:n]
	return nil
}
