// Package generation calls a chat-completion language model.
package generation

import (
	"context"
	"errors"
)

// ErrProvider marks failures of the generation backend.
var ErrProvider = errors.New("generation provider error")

// Request is one system+user exchange.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Generator produces a completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}
