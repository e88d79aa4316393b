// Package qa answers questions and summarizes the corpus by combining
// retrieval with grounded generation.
package qa

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
)

const (
	// DefaultTopK is how many chunks ground an answer.
	DefaultTopK = 5
	// EmptyCorpusMessage is returned instead of an answer when nothing has been uploaded.
	EmptyCorpusMessage = "No documents have been uploaded yet. Please upload documents first."
	// SummaryQuery is the question asked when summarizing the whole corpus.
	SummaryQuery = "Summarize the document"
)

// Retriever finds the chunks that ground an answer.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]models.Chunk, error)
	AllDocuments() []models.Chunk
	Len() int
}

// Answerer generates an answer from a question and its context.
type Answerer interface {
	Answer(ctx context.Context, query string, chunks []models.Chunk) (string, error)
}

// Engine runs question answering and summarization.
type Engine struct {
	retriever Retriever
	answerer  Answerer
	topK      int
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine.
func NewEngine(r Retriever, a Answerer, opts ...Option) *Engine {
	e := &Engine{retriever: r, answerer: a, topK: DefaultTopK}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query answers text from the top-k nearest chunks. The returned context is
// the chunks the answer was grounded on, nearest first.
func (e *Engine) Query(ctx context.Context, text string) (*models.QueryResponse, error) {
	req := models.QueryRequest{Query: text}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if e.retriever.Len() == 0 {
		return &models.QueryResponse{Query: req.Query, Answer: EmptyCorpusMessage, Context: []models.Chunk{}}, nil
	}

	chunks, err := e.retriever.Search(ctx, req.Query, e.topK)
	if err != nil {
		return nil, err
	}
	if e.logger != nil {
		e.logger.Debug("Retrieved context",
			zap.String("query", req.Query),
			zap.Int("chunks", len(chunks)))
	}

	answer, err := e.answerer.Answer(ctx, req.Query, chunks)
	if err != nil {
		return nil, err
	}
	return &models.QueryResponse{Query: req.Query, Answer: answer, Context: chunks}, nil
}

// Summarize asks for a summary grounded on every stored chunk. query focuses
// the summary; a blank query asks SummaryQuery.
func (e *Engine) Summarize(ctx context.Context, query string) (*models.SummaryResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		query = SummaryQuery
	}
	chunks := e.retriever.AllDocuments()
	if len(chunks) == 0 {
		return &models.SummaryResponse{Summary: EmptyCorpusMessage}, nil
	}
	if e.logger != nil {
		e.logger.Debug("Summarizing corpus",
			zap.String("query", query),
			zap.Int("chunks", len(chunks)))
	}

	summary, err := e.answerer.Answer(ctx, query, chunks)
	if err != nil {
		return nil, err
	}
	return &models.SummaryResponse{Summary: summary}, nil
}

// IsEmptyCorpusAnswer reports whether s is the empty-corpus placeholder.
func IsEmptyCorpusAnswer(s string) bool {
	return strings.TrimSpace(s) == EmptyCorpusMessage
}
