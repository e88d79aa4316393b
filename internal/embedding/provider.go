// Package embedding turns text into fixed-length vectors.
package embedding

import (
	"context"
	"errors"
)

// ErrProvider marks failures of the embedding backend: transport, auth,
// rate limits, malformed responses or local inference errors.
var ErrProvider = errors.New("embedding provider error")

// Provider produces vector embeddings for text. Every vector a provider
// returns has exactly Dimensions() elements.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in order. It fails as a whole if any text fails.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model names the embedding model, for status reporting.
	Model() string
	Close() error
}
