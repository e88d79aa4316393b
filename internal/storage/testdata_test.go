package storage

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

func sampleSnapshot(n, dim int) *Snapshot {
	snap := &Snapshot{Dimensions: dim}
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(i*dim + j)
		}
		snap.Vectors = append(snap.Vectors, vec)
		snap.Chunks = append(snap.Chunks, models.Chunk{
			Text:     fmt.Sprintf("chunk %d", i),
			Metadata: map[string]any{models.MetaFileID: fmt.Sprintf("file-%d", i/2), models.MetaFilename: "doc.txt"},
		})
	}
	return snap
}

func prefix(snap *Snapshot, n int) *Snapshot {
	return &Snapshot{Dimensions: snap.Dimensions, Vectors: snap.Vectors[:n], Chunks: snap.Chunks[:n]}
}
