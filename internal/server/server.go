// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/pkg/utils"
)

// requestTimeout bounds a request including answer generation.
const requestTimeout = 120 * time.Second

// QA answers questions and summarizes the corpus.
type QA interface {
	Query(ctx context.Context, text string) (*models.QueryResponse, error)
	Summarize(ctx context.Context, query string) (*models.SummaryResponse, error)
}

// Searcher retrieves chunks without generating an answer.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]models.Chunk, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]models.Chunk, error)
	HybridSearch(ctx context.Context, query string, limit int) ([]models.Chunk, error)
	Suggest(query string) string
	Stats() retrieval.Stats
}

// Uploader indexes uploaded files and text.
type Uploader interface {
	UploadText(ctx context.Context, text, filename string, metadata map[string]any) (*models.UploadResponse, error)
	UploadFile(ctx context.Context, name string, content []byte, metadata map[string]any) (*models.UploadResponse, error)
}

// WatchService manages watched inbox directories.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Kotae API.
type Server struct {
	engine     QA
	retriever  Searcher
	uploader   Uploader
	watch      WatchService // optional; nil disables the watch endpoints
	config     *config.Config
	configPath string // when set, watch directory changes are saved here
	configMu   sync.Mutex
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine QA,
	retriever Searcher,
	uploader Uploader,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	if cfg == nil {
		cfg = config.New()
	}
	return &Server{
		engine:     engine,
		retriever:  retriever,
		uploader:   uploader,
		watch:      watch,
		config:     cfg,
		configPath: configPath,
		logger:     utils.OrNop(logger),
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/documents", s.handleUploadText)
		r.Post("/query", s.handleQuery)
		r.Post("/summarize", s.handleSummarize)
		r.Get("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
