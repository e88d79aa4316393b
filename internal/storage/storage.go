// Package storage persists the vector index and the document store together
// as a single snapshot.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

var (
	// ErrCorrupt is returned when persisted state cannot be decoded or is inconsistent.
	ErrCorrupt = errors.New("snapshot is corrupt")
	// ErrOutOfSync is returned when a commit's durable prefix does not match what is stored.
	ErrOutOfSync = errors.New("snapshot out of sync")
)

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Snapshot is the retrieval state: vectors and chunks, aligned by position.
type Snapshot struct {
	Dimensions int
	Vectors    [][]float32
	Chunks     []models.Chunk
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.Chunks)
}

// Validate checks that vectors and chunks are aligned and have the declared dimension.
func (s *Snapshot) Validate() error {
	if len(s.Vectors) != len(s.Chunks) {
		return fmt.Errorf("%w: %d vectors, %d chunks", ErrCorrupt, len(s.Vectors), len(s.Chunks))
	}
	for i, v := range s.Vectors {
		if len(v) != s.Dimensions {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrCorrupt, i, len(v), s.Dimensions)
		}
	}
	return nil
}

// Persister stores snapshots. Implementations make each Commit atomic: after
// a failed Commit the previously stored snapshot is still intact.
type Persister interface {
	// Load returns the stored snapshot. Dimensions is 0 when nothing has been committed.
	Load(ctx context.Context) (*Snapshot, error)
	// Commit stores snap. The first durable entries of snap are already
	// stored from an earlier commit; backends may write only the rest.
	Commit(ctx context.Context, snap *Snapshot, durable int) error
	Backend() string
	// Paths lists the files backing the store, for disk usage reporting.
	Paths() []string
	Close() error
}

// NewPersister opens the persister for backend at path.
func NewPersister(backend, path string) (Persister, error) {
	switch backend {
	case BackendFile, "":
		fs, err := NewFileStore(path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case BackendSQLite:
		db, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, sqlite)", backend)
	}
}
