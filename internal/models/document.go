// Package models defines the chunk, upload, query and status types shared by
// the retrieval core and its adapters.
package models

import "maps"

// Metadata keys written by the upload path.
const (
	MetaFilename      = "filename"
	MetaFileID        = "file_id"
	MetaChunkIndex    = "chunk_index"
	MetaSource        = "source"
	MetaContentSHA256 = "content_sha256"
)

// Chunk is a stored segment of document text. Chunks are immutable once stored.
type Chunk struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// MetaString returns the string metadata value for key, or "".
func (c Chunk) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata[key].(string)
	return s
}

// ChunkInput is the input accepted by the retriever: PlainText or AnnotatedChunk.
type ChunkInput interface {
	resolve(base map[string]any) Chunk
}

// PlainText is a chunk that only carries the batch metadata.
type PlainText string

func (p PlainText) resolve(base map[string]any) Chunk {
	return Chunk{Text: string(p), Metadata: maps.Clone(base)}
}

// AnnotatedChunk is a chunk with its own metadata, merged over the batch metadata.
type AnnotatedChunk struct {
	Text     string
	Metadata map[string]any
}

func (a AnnotatedChunk) resolve(base map[string]any) Chunk {
	meta := make(map[string]any, len(base)+len(a.Metadata))
	maps.Copy(meta, base)
	maps.Copy(meta, a.Metadata)
	return Chunk{Text: a.Text, Metadata: meta}
}

// ResolveChunks turns inputs into chunks. Every chunk gets its own metadata map.
func ResolveChunks(inputs []ChunkInput, metadata map[string]any) []Chunk {
	chunks := make([]Chunk, 0, len(inputs))
	for _, in := range inputs {
		if in == nil {
			continue
		}
		c := in.resolve(metadata)
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		chunks = append(chunks, c)
	}
	return chunks
}

// PlainTexts wraps texts as PlainText inputs.
func PlainTexts(texts []string) []ChunkInput {
	inputs := make([]ChunkInput, len(texts))
	for i, t := range texts {
		inputs[i] = PlainText(t)
	}
	return inputs
}

// UploadRequest is the input for uploading already-extracted text.
type UploadRequest struct {
	Text     string         `json:"text"`
	Filename string         `json:"filename"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UploadResponse reports an accepted upload.
type UploadResponse struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	// Skipped is set when identical content was already indexed; FileID is then the existing one.
	Skipped bool `json:"skipped,omitempty"`
}
