package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retrieval"
)

const (
	// multipartMemory is how much of a multipart body is held in memory before spilling to disk.
	multipartMemory = 32 << 20
	// formOverhead is the room allowed on top of the file size for multipart framing and fields.
	formOverhead = 1 << 20
	// defaultTextFilename names text uploads that arrive without a filename.
	defaultTextFilename = "untitled.txt"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Kotae document QA API", "status": "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Upload.MaxFileSize+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondErr(w, r, fmt.Errorf("%w: limit %d bytes", indexer.ErrTooLarge, s.config.Upload.MaxFileSize))
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	metadata, err := parseMetadata(r.FormValue("metadata"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, s.config.Upload.MaxFileSize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	s.logger.Debug("upload request",
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(content)))
	resp, err := s.uploader.UploadFile(r.Context(), header.Filename, content, metadata)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadText(w http.ResponseWriter, r *http.Request) {
	var req models.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		req.Filename = defaultTextFilename
	}
	s.logger.Debug("text upload request",
		zap.String("filename", req.Filename),
		zap.Int("chars", len(req.Text)))
	resp, err := s.uploader.UploadText(r.Context(), req.Text, req.Filename, req.Metadata)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		req.Query = formValue(r, "query")
	}
	s.logger.Debug("query request", zap.String("query", req.Query))
	resp, err := s.engine.Query(r.Context(), req.Query)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req models.SummaryRequest
	if isJSON(r) {
		// An empty body asks for the default summary.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		req.Query = formValue(r, "query")
	}
	s.logger.Debug("summarize request", zap.String("query", req.Query))
	resp, err := s.engine.Summarize(r.Context(), req.Query)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.SearchRequest{Query: q.Get("q"), Mode: q.Get("mode")}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		req.Limit = n
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request",
		zap.String("query", req.Query),
		zap.String("mode", req.Mode),
		zap.Int("limit", req.Limit))

	var (
		results []models.Chunk
		err     error
	)
	switch req.Mode {
	case models.SearchModeKeyword:
		results, err = s.retriever.KeywordSearch(r.Context(), req.Query, req.Limit)
	case models.SearchModeHybrid:
		results, err = s.retriever.HybridSearch(r.Context(), req.Query, req.Limit)
	default:
		results, err = s.retriever.Search(r.Context(), req.Query, req.Limit)
	}
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if results == nil {
		results = []models.Chunk{}
	}
	resp := models.SearchResponse{Query: req.Query, Mode: req.Mode, Results: results}
	if len(results) == 0 && req.Mode != models.SearchModeSemantic {
		resp.Suggestion = s.retriever.Suggest(req.Query)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.retriever.Stats()
	resp := models.StatusResponse{
		Status:         "ok",
		Chunks:         stats.Chunks,
		Files:          stats.Files,
		Dimensions:     stats.Dimensions,
		IndexType:      stats.IndexType,
		StorageBackend: stats.Backend,
		EmbeddingModel: stats.EmbeddingModel,
		KeywordIndexed: stats.KeywordIndexed,
		DiskUsageBytes: stats.DiskUsageBytes,
		Config: &models.StatusConfig{
			TopK:            s.config.Retrieval.TopK,
			ChunkSize:       s.config.Retrieval.ChunkSize,
			ChunkOverlap:    s.config.Retrieval.ChunkOverlap,
			StoragePath:     s.config.Storage.Path,
			GenerationModel: s.config.Generation.Model,
		},
	}
	if s.watch != nil {
		resp.Config.WatchDirectories = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories saves the watched directories back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps an error from the core to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrExtraction),
		errors.Is(err, indexer.ErrNoText),
		errors.Is(err, indexer.ErrTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, retrieval.ErrKeywordDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, retrieval.ErrEmbeddingFailure),
		errors.Is(err, embedding.ErrProvider),
		errors.Is(err, answer.ErrGenerationFailure),
		errors.Is(err, generation.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func parseMetadata(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	return meta, nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// formValue reads a field from a urlencoded or multipart form.
func formValue(r *http.Request, key string) string {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		_ = r.ParseMultipartForm(multipartMemory)
	}
	return r.FormValue(key)
}
