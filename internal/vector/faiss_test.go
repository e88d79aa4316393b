//go:build faiss && cgo

package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFAISSIndex_MatchesFlat(t *testing.T) {
	ctx := context.Background()
	vecs := [][]float32{{5, 5}, {1, 1}, {3, 3}, {0, 1}, {1, 0}}

	flat, _ := NewFlatIndex(2)
	fi, err := NewFAISSIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer fi.Close()
	_ = flat.Append(ctx, vecs)
	if err := fi.Append(ctx, vecs); err != nil {
		t.Fatal(err)
	}

	want, _ := flat.Search(ctx, []float32{0, 0}, 10)
	got, err := fi.Search(ctx, []float32{0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d hits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Position != want[i].Position {
			t.Errorf("hit %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestFAISSIndex_TruncateAndSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx.bin")

	fi, _ := NewFAISSIndex(3)
	defer fi.Close()
	_ = fi.Append(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	if err := fi.Truncate(2); err != nil {
		t.Fatal(err)
	}
	if err := fi.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewFlatIndex(3)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Errorf("size=%d, want 2", loaded.Size())
	}
}

func TestFAISSIndex_TieBreakAtCutoff(t *testing.T) {
	ctx := context.Background()
	fi, err := NewFAISSIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer fi.Close()
	vecs := make([][]float32, 0, 20)
	for range 20 {
		vecs = append(vecs, []float32{1, 1})
	}
	vecs = append(vecs, []float32{0, 0})
	if err := fi.Append(ctx, vecs); err != nil {
		t.Fatal(err)
	}

	got, err := fi.Search(ctx, []float32{0, 0}, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{20, 0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %d hits, want %d", len(got), len(want))
	}
	for i, p := range want {
		if got[i].Position != p {
			t.Errorf("hit %d: position %d, want %d", i, got[i].Position, p)
		}
	}
}
