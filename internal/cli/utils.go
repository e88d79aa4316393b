// Package cli formats Kotae results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/qa"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
)

const (
	snippetWords = 40
	rule         = "─────────────────────────────────────────────────────────"
)

// ParseFormat converts a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputJSON, OutputCompact:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and the chunks it was grounded on.
func WriteAnswer(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintln(w, strings.TrimSpace(resp.Answer))
	if qa.IsEmptyCorpusAnswer(resp.Answer) {
		fmt.Fprintln(w, "\nAdd documents with: kotae upload <file-or-directory>")
		return nil
	}
	if len(resp.Context) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\nSources (%d):\n", len(resp.Context))
	for i, c := range resp.Context {
		if format == OutputCompact {
			fmt.Fprintf(w, "  %d. %s\n", i+1, SourceLabel(c))
			continue
		}
		fmt.Fprintf(w, "  %d. %s\n     %s\n", i+1, SourceLabel(c), TruncateWords(c.Text, snippetWords))
	}
	return nil
}

// WriteSummary writes a corpus summary.
func WriteSummary(w io.Writer, resp *models.SummaryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	fmt.Fprintln(w, strings.TrimSpace(resp.Summary))
	if qa.IsEmptyCorpusAnswer(resp.Summary) {
		fmt.Fprintln(w, "\nAdd documents with: kotae upload <file-or-directory>")
	}
	return nil
}

// WriteUpload reports an upload.
func WriteUpload(w io.Writer, resp *models.UploadResponse, format OutputFormat) error {
	switch {
	case format == OutputJSON:
		return WriteJSON(w, resp)
	case resp.Skipped:
		fmt.Fprintf(w, "Skipped %s: already indexed as %s\n", resp.Filename, resp.FileID)
	default:
		fmt.Fprintf(w, "Indexed %s: %d chunk(s), file_id %s\n", resp.Filename, resp.Chunks, resp.FileID)
	}
	return nil
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return WriteJSON(w, resp)
	case OutputCompact:
		for _, c := range resp.Results {
			fmt.Fprintf(w, "%s\t%s\n", SourceLabel(c), TruncateWords(c.Text, snippetWords/2))
		}
	default:
		writeSearchResultsText(w, resp)
	}
	return nil
}

func writeSearchResultsText(w io.Writer, resp *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d result(s) for %q (%s)\n\n", len(resp.Results), resp.Query, resp.Mode)
	for i, c := range resp.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | %s\n", i+1, SourceLabel(c))
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(c.Text, 200))
	}
	if resp.Suggestion != "" {
		fmt.Fprintf(w, "Did you mean: %s\n", resp.Suggestion)
	}
}

// WriteStatus writes service status.
func WriteStatus(w io.Writer, st *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "chunks:             %d   # stored text chunks\n", st.Chunks)
	fmt.Fprintf(w, "files:              %d   # distinct uploads\n", st.Files)
	fmt.Fprintf(w, "dimensions:         %d\n", st.Dimensions)
	fmt.Fprintf(w, "index_type:         %s\n", st.IndexType)
	fmt.Fprintf(w, "storage_backend:    %s\n", st.StorageBackend)
	fmt.Fprintf(w, "embedding_model:    %s\n", st.EmbeddingModel)
	fmt.Fprintf(w, "keyword_indexed:    %d\n", st.KeywordIndexed)
	fmt.Fprintf(w, "disk_usage_bytes:   %d\n", st.DiskUsageBytes)
	if st.Config != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "top_k:              %d\n", st.Config.TopK)
		fmt.Fprintf(w, "chunk_size:         %d\n", st.Config.ChunkSize)
		fmt.Fprintf(w, "chunk_overlap:      %d\n", st.Config.ChunkOverlap)
		if st.Config.StoragePath != "" {
			fmt.Fprintf(w, "storage_path:       %s\n", st.Config.StoragePath)
		}
		if st.Config.GenerationModel != "" {
			fmt.Fprintf(w, "generation_model:   %s\n", st.Config.GenerationModel)
		}
		for _, d := range st.Config.WatchDirectories {
			fmt.Fprintf(w, "watch_directory:    %s\n", d)
		}
	}
	return nil
}

// SourceLabel names a chunk by file and position, e.g. "report.pdf#3".
func SourceLabel(c models.Chunk) string {
	name := c.MetaString(models.MetaFilename)
	if name == "" {
		name = "(text)"
	}
	if idx, ok := c.Metadata[models.MetaChunkIndex]; ok {
		return fmt.Sprintf("%s#%v", name, idx)
	}
	return name
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
