//go:build faiss && cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"unsafe"

	"github.com/hyperjump/kotae/pkg/utils"
)

// FAISSIndex searches with a FAISS IndexFlatL2. FAISS labels are the
// insertion positions. A Go-side copy of the vectors backs persistence and
// rollback, and results are re-sorted so ties resolve by position like FlatIndex.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFAISSIndex creates an empty FAISS IndexFlatL2 with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var flat *C.FaissIndexFlatL2
	if ret := C.faiss_IndexFlatL2_new_with(&flat, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{
		index:      (*C.FaissIndex)(unsafe.Pointer(flat)),
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

// Dimensions returns the fixed vector length.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Append adds vectors to the FAISS index. The batch is validated first.
func (f *FAISSIndex) Append(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	flat := make([]float32, 0, len(vectors)*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("%w: vector %d has %d, expected %d", ErrDimensionMismatch, i, len(vec), f.dimensions)
		}
		flat = append(flat, vec...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.addLocked(flat, len(vectors)); err != nil {
		return err
	}
	for _, vec := range vectors {
		f.vectors = append(f.vectors, slices.Clone(vec))
	}
	return nil
}

func (f *FAISSIndex) addLocked(flat []float32, n int) error {
	if n == 0 {
		return nil
	}
	ret := C.faiss_Index_add(f.index, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return nil
}

// Search returns the k nearest vectors by squared L2 distance, with the same
// ordering as FlatIndex: among equal distances the lower position wins. FAISS
// picks arbitrarily among vectors tied at the k-th distance, so the search
// widens until every vector at that distance has been fetched.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	ntotal := len(f.vectors)
	if k <= 0 || ntotal == 0 {
		return []Hit{}, nil
	}
	if k > ntotal {
		k = ntotal
	}

	fetch := k
	for {
		hits, err := f.searchLocked(query, fetch)
		if err != nil {
			return nil, err
		}
		sortHits(hits)
		if len(hits) < k {
			return hits, nil
		}
		boundary := hits[k-1].Distance
		if fetch == ntotal || hits[len(hits)-1].Distance > boundary {
			return hits[:k], nil
		}
		fetch = min(fetch*2, ntotal)
	}
}

// searchLocked runs one FAISS query for n neighbours. Caller holds the lock.
func (f *FAISSIndex) searchLocked(query []float32, n int) ([]Hit, error) {
	distances := make([]float32, n)
	labels := make([]int64, n)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, 0, n)
	for i := 0; i < n; i++ {
		if labels[i] < 0 {
			continue
		}
		hits = append(hits, Hit{Position: int(labels[i]), Distance: distances[i]})
	}
	return hits, nil
}

// Vector returns a copy of the vector at position.
func (f *FAISSIndex) Vector(position int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if position < 0 || position >= len(f.vectors) {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrOutOfRange, position, len(f.vectors))
	}
	return slices.Clone(f.vectors[position]), nil
}

// Vectors returns the stored vectors in position order. As with FlatIndex the
// returned slice survives later appends and truncates.
func (f *FAISSIndex) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clip(f.vectors)
}

// Truncate drops all vectors at position >= n by resetting the FAISS index
// and re-adding the kept prefix.
func (f *FAISSIndex) Truncate(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || n > len(f.vectors) {
		return fmt.Errorf("%w: truncate to %d (size %d)", ErrOutOfRange, n, len(f.vectors))
	}
	return f.replaceLocked(slices.Clone(f.vectors[:n]))
}

func (f *FAISSIndex) replaceLocked(vectors [][]float32) error {
	if ret := C.faiss_Index_reset(f.index); ret != 0 {
		return fmt.Errorf("failed to reset FAISS index: %s", faissLastError())
	}
	flat := make([]float32, 0, len(vectors)*f.dimensions)
	for _, vec := range vectors {
		flat = append(flat, vec...)
	}
	if err := f.addLocked(flat, len(vectors)); err != nil {
		return err
	}
	f.vectors = vectors
	return nil
}

// Save writes the index in the portable vector encoding, not FAISS's native
// format, so a flat index can load it.
func (f *FAISSIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		return Encode(w, f.dimensions, f.vectors)
	})
}

// Load replaces the contents with the file at path. A missing file leaves
// the index empty.
func (f *FAISSIndex) Load(path string) error {
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
	defer f.mu.Unlock()
	return f.replaceLocked(vectors)
}

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
