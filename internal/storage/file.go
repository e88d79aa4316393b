package storage

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	fileMagic   = "KOTAESNP"
	fileVersion = uint32(2)
)

// FileStore keeps the snapshot in one file: header with the entry count, the
// vector block and the chunks as JSON. Every commit rewrites the file through
// a temp file and a rename, so both halves always change together.
//
// Commits from several processes are serialised with an advisory lock on a
// sidecar ".lock" file, and a commit whose durable prefix no longer matches
// the stored entry count fails with ErrOutOfSync.
type FileStore struct {
	path string
}

// NewFileStore returns a file store writing to path. Nothing is created until the first commit.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	return &FileStore{path: path}, nil
}

// Backend returns "file".
func (f *FileStore) Backend() string { return BackendFile }

// Paths returns the snapshot file path.
func (f *FileStore) Paths() []string { return []string{f.path} }

// Close is a no-op for FileStore.
func (f *FileStore) Close() error { return nil }

func (f *FileStore) lockPath() string { return f.path + ".lock" }

// readHeader checks magic and version and returns the stored entry count.
func readHeader(r io.Reader) (int, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != fileMagic {
		return 0, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, fmt.Errorf("%w: read version: %v", ErrCorrupt, err)
	}
	if version != fileVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, fmt.Errorf("%w: read count: %v", ErrCorrupt, err)
	}
	return int(count), nil
}

// Load reads the snapshot file. A missing file yields an empty snapshot.
func (f *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	count, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	dim, vectors, err := vector.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var chunks []models.Chunk
	if err := json.NewDecoder(r).Decode(&chunks); err != nil {
		return nil, fmt.Errorf("%w: decode chunks: %v", ErrCorrupt, err)
	}
	if len(chunks) != count {
		return nil, fmt.Errorf("%w: header counts %d entries, file holds %d", ErrCorrupt, count, len(chunks))
	}
	snap := &Snapshot{Dimensions: dim, Vectors: vectors, Chunks: chunks}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// storedCount returns the entry count of the file on disk, 0 when it does not exist.
func (f *FileStore) storedCount() (int, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()
	return readHeader(bufio.NewReader(file))
}

// Commit rewrites the whole snapshot file. The stored entry count must equal
// durable, otherwise ErrOutOfSync is returned and the file is left untouched.
func (f *FileStore) Commit(ctx context.Context, snap *Snapshot, durable int) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if durable < 0 || durable > snap.Len() {
		return fmt.Errorf("%w: durable prefix %d of %d", ErrOutOfSync, durable, snap.Len())
	}

	unlock, err := lockFile(ctx, f.lockPath())
	if err != nil {
		return fmt.Errorf("failed to lock snapshot: %w", err)
	}
	defer unlock()

	stored, err := f.storedCount()
	if err != nil {
		return err
	}
	if stored != durable {
		return fmt.Errorf("%w: file has %d chunks, commit expects %d", ErrOutOfSync, stored, durable)
	}

	chunks := snap.Chunks
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	return utils.WriteFileAtomic(f.path, func(w io.Writer) error {
		if _, err := io.WriteString(w, fileMagic); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, fileVersion); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(chunks))); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if err := vector.Encode(w, snap.Dimensions, snap.Vectors); err != nil {
			return fmt.Errorf("failed to write vectors: %w", err)
		}
		if err := json.NewEncoder(w).Encode(chunks); err != nil {
			return fmt.Errorf("failed to write chunks: %w", err)
		}
		return nil
	})
}
