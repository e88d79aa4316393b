package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/restclient"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultBatchSize     = 64
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// OpenAIProvider calls POST {base}/embeddings. Vector length is checked by
// the index the vectors are appended to, not here.
type OpenAIProvider struct {
	client     *restclient.RestClient
	model      string
	dimensions int
	batchSize  int
	logger     *zap.Logger
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIProvider creates a provider. The API key may be empty for local
// OpenAI-compatible servers.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	client := restclient.NewRestClient(cfg.BaseURL,
		restclient.WithBearerToken(cfg.APIKey),
		restclient.WithTimeout(cfg.Timeout),
		restclient.WithRetries(cfg.MaxRetries),
		restclient.WithLogger(cfg.Logger),
	)
	return &OpenAIProvider{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger,
	}, nil
}

// Embed embeds a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs. Any failed
// request fails the whole call.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		vecs, err := p.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *OpenAIProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	req := embeddingRequest{Input: texts, Model: p.model}
	if strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dimensions
	}
	var resp embeddingResponse
	if err := p.client.Post(ctx, "/embeddings", req, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrProvider, len(resp.Data), len(texts))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vecs := make([][]float32, len(texts))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	if p.logger != nil {
		p.logger.Debug("embedded batch", zap.Int("inputs", len(texts)), zap.String("model", p.model))
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Close is a no-op for OpenAIProvider.
func (p *OpenAIProvider) Close() error {
	return nil
}
