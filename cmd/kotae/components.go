package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/qa"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Provider  embedding.Provider
	Retriever *retrieval.Retriever
	Engine    *qa.Engine
	Indexer   *indexer.Indexer
}

// Close releases the retriever and then the embedding provider.
func (c *Components) Close() error {
	var errs []error
	if c.Retriever != nil {
		errs = append(errs, c.Retriever.Close())
	}
	if c.Provider != nil {
		errs = append(errs, c.Provider.Close())
	}
	return errors.Join(errs...)
}

func newProvider(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Provider, error) {
	var p embedding.Provider
	switch cfg.Provider {
	case config.ProviderMock:
		p = embedding.NewMockProvider(cfg.Dimensions)
	case config.ProviderONNX:
		onnx, err := embedding.NewONNXProvider(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize onnx provider: %w", err)
		}
		p = onnx
	default:
		if cfg.APIKey() == "" {
			logger.Warn("embedding API key is empty", zap.String("env", cfg.APIKeyEnv))
		}
		openai, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey(),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout(),
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai provider: %w", err)
		}
		p = openai
	}
	return embedding.WithCache(p, cfg.CacheSize), nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	provider, err := newProvider(&cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}

	index, err := vector.NewVectorIndex(cfg.Storage.IndexType, cfg.Embedding.Dimensions)
	if err != nil {
		if cfg.Storage.IndexType == string(vector.IndexTypeFlat) {
			_ = provider.Close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
		logger.Warn("failed to create vector index, falling back to flat",
			zap.String("requested_type", cfg.Storage.IndexType),
			zap.Error(err))
		if index, err = vector.NewFlatIndex(cfg.Embedding.Dimensions); err != nil {
			_ = provider.Close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}

	var persister storage.Persister
	if cfg.Storage.Backend != config.BackendMemory {
		if persister, err = storage.NewPersister(cfg.Storage.Backend, cfg.Storage.Path); err != nil {
			_ = provider.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	opts := []retrieval.Option{
		retrieval.WithLogger(logger),
		retrieval.WithHybridWeights(cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight),
	}
	if cfg.Retrieval.KeywordEnabledOrDefault() {
		kw, err := keyword.NewMemIndex()
		if err != nil {
			_ = provider.Close()
			if persister != nil {
				_ = persister.Close()
			}
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		opts = append(opts, retrieval.WithKeywordIndex(kw))
	}

	r, err := retrieval.New(ctx, provider, index, persister, opts...)
	if err != nil {
		_ = provider.Close()
		if persister != nil {
			_ = persister.Close()
		}
		return nil, err
	}
	logger.Info("retriever ready",
		zap.Int("chunks", r.Len()),
		zap.String("index_type", index.Type()),
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	gen := generation.NewOpenAIGenerator(generation.OpenAIConfig{
		BaseURL:    cfg.Generation.BaseURL,
		APIKey:     cfg.Generation.APIKey(),
		Model:      cfg.Generation.Model,
		Timeout:    cfg.Generation.Timeout(),
		MaxRetries: cfg.Generation.MaxRetries,
		Logger:     logger,
	})
	answerer := answer.New(gen,
		answer.WithMaxTokens(cfg.Generation.MaxTokens),
		answer.WithTemperature(cfg.Generation.Temperature),
		answer.WithLogger(logger),
	)
	engine := qa.NewEngine(r, answerer,
		qa.WithTopK(cfg.Retrieval.TopK),
		qa.WithLogger(logger),
	)
	idx := indexer.NewIndexer(r, extract.NewExtractor(),
		indexer.WithLogger(logger),
		indexer.WithChunking(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
		indexer.WithAllowedExtensions(cfg.Upload.Extensions),
		indexer.WithMaxFileSize(cfg.Upload.MaxFileSize),
		indexer.WithMinTextLength(cfg.Upload.MinTextLength),
	)

	return &Components{
		Provider:  provider,
		Retriever: r,
		Engine:    engine,
		Indexer:   idx,
	}, nil
}
