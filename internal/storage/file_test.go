package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func TestFileStore_LoadMissing(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "snap.bin"))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := fs.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 0 || snap.Dimensions != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

func TestFileStore_CommitLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "snap.bin")
	fs, _ := NewFileStore(path)
	full := sampleSnapshot(4, 3)

	if err := fs.Commit(ctx, prefix(full, 2), 0); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := fs.Commit(ctx, full, 2); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dimensions != 3 || got.Len() != 4 {
		t.Fatalf("got dim=%d len=%d", got.Dimensions, got.Len())
	}
	for i := range full.Chunks {
		if got.Chunks[i].Text != full.Chunks[i].Text {
			t.Errorf("chunk %d text %q", i, got.Chunks[i].Text)
		}
		if got.Chunks[i].MetaString("file_id") != full.Chunks[i].MetaString("file_id") {
			t.Errorf("chunk %d metadata %v", i, got.Chunks[i].Metadata)
		}
		for j := range full.Vectors[i] {
			if got.Vectors[i][j] != full.Vectors[i][j] {
				t.Errorf("vector %d differs", i)
				break
			}
		}
	}
}

func TestFileStore_CommitEmpty(t *testing.T) {
	ctx := context.Background()
	fs, _ := NewFileStore(filepath.Join(t.TempDir(), "snap.bin"))
	if err := fs.Commit(ctx, &Snapshot{Dimensions: 8}, 0); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dimensions != 8 || got.Len() != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestFileStore_CommitRejectsMisaligned(t *testing.T) {
	fs, _ := NewFileStore(filepath.Join(t.TempDir(), "snap.bin"))
	snap := sampleSnapshot(2, 2)
	snap.Chunks = snap.Chunks[:1]
	if err := fs.Commit(context.Background(), snap, 0); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
	if _, err := os.Stat(fs.Paths()[0]); !os.IsNotExist(err) {
		t.Error("rejected commit should not create the file")
	}
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	if err := os.WriteFile(path, []byte("not a snapshot"), 0644); err != nil {
		t.Fatal(err)
	}
	fs, _ := NewFileStore(path)
	if _, err := fs.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestFileStore_LoadTruncated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.bin")
	fs, _ := NewFileStore(path)
	if err := fs.Commit(ctx, sampleSnapshot(3, 4), 0); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)/2], 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestNewFileStore_emptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestFileStore_CommitRejectsStalePrefix(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.bin")
	server, _ := NewFileStore(path)
	cli, _ := NewFileStore(path)
	full := sampleSnapshot(3, 2)

	if err := server.Commit(ctx, prefix(full, 1), 0); err != nil {
		t.Fatal(err)
	}
	// cli loaded one entry and commits a second.
	if err := cli.Commit(ctx, prefix(full, 2), 1); err != nil {
		t.Fatal(err)
	}
	// server still believes one entry is stored.
	stale := &Snapshot{
		Dimensions: 2,
		Vectors:    [][]float32{full.Vectors[0], full.Vectors[2]},
		Chunks:     []models.Chunk{full.Chunks[0], full.Chunks[2]},
	}
	if err := server.Commit(ctx, stale, 1); !errors.Is(err, ErrOutOfSync) {
		t.Fatalf("expected ErrOutOfSync, got %v", err)
	}

	got, err := server.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 2 || got.Chunks[1].Text != full.Chunks[1].Text {
		t.Errorf("stale commit overwrote the file: %+v", got.Chunks)
	}
}

func TestFileStore_CommitRejectsBadDurable(t *testing.T) {
	fs, _ := NewFileStore(filepath.Join(t.TempDir(), "snap.bin"))
	if err := fs.Commit(context.Background(), sampleSnapshot(2, 2), 3); !errors.Is(err, ErrOutOfSync) {
		t.Errorf("expected ErrOutOfSync, got %v", err)
	}
}

func TestFileStore_ConcurrentWritersKeepEveryEntry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.bin")
	const writers = 4
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs, _ := NewFileStore(path)
			for i := 0; i < perWriter; {
				snap, err := fs.Load(ctx)
				if err != nil {
					errs <- err
					return
				}
				durable := snap.Len()
				snap.Dimensions = 2
				snap.Vectors = append(snap.Vectors, []float32{float32(w), float32(i)})
				snap.Chunks = append(snap.Chunks, models.Chunk{Text: fmt.Sprintf("w%d-%d", w, i)})
				err = fs.Commit(ctx, snap, durable)
				if errors.Is(err, ErrOutOfSync) {
					continue
				}
				if err != nil {
					errs <- err
					return
				}
				i++
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	fs, _ := NewFileStore(path)
	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != writers*perWriter {
		t.Fatalf("stored %d entries, want %d", got.Len(), writers*perWriter)
	}
	seen := make(map[string]bool)
	for _, c := range got.Chunks {
		if seen[c.Text] {
			t.Errorf("duplicate entry %s", c.Text)
		}
		seen[c.Text] = true
	}
}

func TestFileStore_LoadRejectsCountMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.bin")
	fs, _ := NewFileStore(path)
	if err := fs.Commit(ctx, sampleSnapshot(2, 2), 0); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// The count follows the magic and the version.
	data[len(fileMagic)+4] = 9
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}
