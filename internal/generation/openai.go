package generation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/restclient"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// OpenAIGenerator calls POST {base}/chat/completions.
type OpenAIGenerator struct {
	client *restclient.RestClient
	model  string
	logger *zap.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenAIGenerator creates a chat completions client.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	client := restclient.NewRestClient(cfg.BaseURL,
		restclient.WithBearerToken(cfg.APIKey),
		restclient.WithTimeout(cfg.Timeout),
		restclient.WithRetries(cfg.MaxRetries),
		restclient.WithLogger(cfg.Logger),
	)
	return &OpenAIGenerator{client: client, model: cfg.Model, logger: cfg.Logger}
}

// Generate sends the system and user messages and returns the first choice's content.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	payload := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	var resp chatResponse
	if err := g.client.Post(ctx, "/chat/completions", payload, &resp); err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrProvider)
	}
	if g.logger != nil {
		g.logger.Debug("chat completion",
			zap.String("model", g.model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.String("finish_reason", resp.Choices[0].FinishReason))
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the model name.
func (g *OpenAIGenerator) Model() string {
	return g.model
}
