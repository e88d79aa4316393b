package vector

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/hyperjump/kotae/pkg/utils"
)

// FlatIndex is an exact brute-force index. Search scans every stored vector,
// which keeps results deterministic and is fast enough for a few thousand chunks.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Dimensions returns the fixed vector length.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Append copies vectors to the end of the index. The whole batch is checked
// before anything is stored.
func (f *FlatIndex) Append(ctx context.Context, vectors [][]float32) error {
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("%w: vector %d has %d, expected %d", ErrDimensionMismatch, i, len(vec), f.dimensions)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vec := range vectors {
		f.vectors = append(f.vectors, slices.Clone(vec))
	}
	return nil
}

// Search returns the k nearest vectors by squared L2 distance. k is clamped to
// the number of stored vectors.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return []Hit{}, nil
	}
	hits := make([]Hit, len(f.vectors))
	for i, vec := range f.vectors {
		hits[i] = Hit{Position: i, Distance: SquaredL2(query, vec)}
	}
	sortHits(hits)
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func sortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return a.Position - b.Position
	})
}

// Vector returns a copy of the vector at position.
func (f *FlatIndex) Vector(position int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if position < 0 || position >= len(f.vectors) {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrOutOfRange, position, len(f.vectors))
	}
	return slices.Clone(f.vectors[position]), nil
}

// Vectors returns the stored vectors. Stored vectors are never mutated and
// Truncate moves the kept prefix to a new array, so the returned slice stays
// valid after later appends and truncates.
func (f *FlatIndex) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clip(f.vectors)
}

// Truncate drops all vectors at position >= n.
func (f *FlatIndex) Truncate(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || n > len(f.vectors) {
		return fmt.Errorf("%w: truncate to %d (size %d)", ErrOutOfRange, n, len(f.vectors))
	}
	f.vectors = slices.Clone(f.vectors[:n])
	return nil
}

// Save writes the index to path atomically. An empty path is a no-op.
func (f *FlatIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		return Encode(w, f.dimensions, f.vectors)
	})
}

// Load replaces the index contents with the file at path. A missing file
// leaves the index empty. The stored dimension must match.
func (f *FlatIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f.Truncate(0)
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	dim, vectors, err := Decode(file)
	if err != nil {
		return fmt.Errorf("decode index file: %w", err)
	}
	if dim != f.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, f.dimensions)
	}
	f.mu.Lock()
	f.vectors = vectors
	f.mu.Unlock()
	return nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
