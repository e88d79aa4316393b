package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyQuery is returned when a query has no text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// QueryRequest asks a question against the indexed documents.
type QueryRequest struct {
	Query string `json:"query"`
}

// Validate trims the query and rejects blank input.
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	return nil
}

// QueryResponse is the answer plus the chunks it was grounded on.
type QueryResponse struct {
	Query   string  `json:"query"`
	Answer  string  `json:"answer"`
	Context []Chunk `json:"context"`
}

// SummaryRequest asks for a summary of the whole corpus. Query optionally
// focuses the summary; blank uses the default summary question.
type SummaryRequest struct {
	Query string `json:"query,omitempty"`
}

// SummaryResponse is the whole-corpus summary.
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// Search modes.
const (
	SearchModeSemantic = "semantic"
	SearchModeKeyword  = "keyword"
	SearchModeHybrid   = "hybrid"
)

// SearchRequest retrieves chunks without generating an answer.
type SearchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Validate ensures the search request has valid fields and sets defaults.
func (q *SearchRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	switch q.Mode {
	case "":
		q.Mode = SearchModeSemantic
	case SearchModeSemantic, SearchModeKeyword, SearchModeHybrid:
	default:
		return fmt.Errorf("unknown search mode: %s", q.Mode)
	}
	return nil
}

// SearchResponse lists retrieved chunks, nearest first.
type SearchResponse struct {
	Query   string  `json:"query"`
	Mode    string  `json:"mode"`
	Results []Chunk `json:"results"`
	// Suggestion is a spelling correction offered when a keyword search finds nothing.
	Suggestion string `json:"suggestion,omitempty"`
}

// StatusResponse describes the service state.
type StatusResponse struct {
	Status         string `json:"status"`
	Chunks         int    `json:"chunks"`
	Files          int    `json:"files"`
	Dimensions     int    `json:"dimensions"`
	IndexType      string `json:"index_type"`
	StorageBackend string `json:"storage_backend"`
	EmbeddingModel string `json:"embedding_model"`
	KeywordIndexed int    `json:"keyword_indexed"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
	// Config echoes the settings that shape retrieval; omitted by remote clients that cannot know it.
	Config *StatusConfig `json:"config,omitempty"`
}

// StatusConfig holds configuration info returned by status.
type StatusConfig struct {
	TopK             int      `json:"top_k"`
	ChunkSize        int      `json:"chunk_size"`
	ChunkOverlap     int      `json:"chunk_overlap"`
	StoragePath      string   `json:"storage_path,omitempty"`
	GenerationModel  string   `json:"generation_model,omitempty"`
	WatchDirectories []string `json:"watch_directories,omitempty"`
}
