// Package answer builds grounded prompts from retrieved chunks and asks a
// language model to answer them.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
)

// ErrGenerationFailure is returned when the model call fails or returns no content.
var ErrGenerationFailure = errors.New("generation failure")

// SystemPrompt sets the assistant's role and grounding policy.
const SystemPrompt = "You are an AI research assistant helping users understand documents. " +
	"Answer the user's question based on the provided context from their documents. " +
	"Be helpful and informative. If the exact answer isn't in the context but you can provide " +
	"a relevant response based on the context, do so. Only say you don't know if the context " +
	"is completely unrelated to the question."

const (
	defaultMaxTokens   = 500
	defaultTemperature = 0.3
)

// Answerer turns a question and its context chunks into an answer.
type Answerer struct {
	generator   generation.Generator
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithMaxTokens bounds the answer length.
func WithMaxTokens(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Answerer) { a.temperature = t }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(a *Answerer) { a.logger = l }
}

// New returns an Answerer backed by g.
func New(g generation.Generator, opts ...Option) *Answerer {
	a := &Answerer{
		generator:   g,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildContext joins chunk texts, in order, separated by a blank line.
func BuildContext(chunks []models.Chunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n\n")
}

// BuildUserPrompt embeds the context block and the question.
func BuildUserPrompt(query string, chunks []models.Chunk) string {
	return "Context from documents:\n" + BuildContext(chunks) + "\n\nQuestion: " + query + "\nAnswer:"
}

// Answer asks the model to answer query from chunks and returns its text verbatim.
func (a *Answerer) Answer(ctx context.Context, query string, chunks []models.Chunk) (string, error) {
	req := generation.Request{
		System:      SystemPrompt,
		User:        BuildUserPrompt(query, chunks),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
	if a.logger != nil {
		a.logger.Debug("generating answer",
			zap.Int("context_chunks", len(chunks)),
			zap.Int("prompt_chars", len(req.User)))
	}
	text, err := a.generator.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailure, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: model returned no content", ErrGenerationFailure)
	}
	return text, nil
}

// Model returns the generator's model name.
func (a *Answerer) Model() string {
	return a.generator.Model()
}
