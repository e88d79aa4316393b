// Package indexer turns uploaded files and text into chunks and hands them
// to the retriever.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

var (
	// ErrNoText is returned when an upload yields too little text to index.
	ErrNoText = errors.New("no extractable text")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("file too large")
)

// Upload limits.
const (
	DefaultMaxFileSize   = 10 << 20
	DefaultMinTextLength = 10
)

// DefaultExtensions are the upload formats accepted unless configured otherwise.
var DefaultExtensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".html", ".htm"}

// Retriever stores embedded chunks.
type Retriever interface {
	AddDocuments(ctx context.Context, inputs []models.ChunkInput, metadata map[string]any) (int, error)
	AllDocuments() []models.Chunk
}

// Indexer validates uploads, extracts and chunks their text, and adds the
// chunks to the retriever.
type Indexer struct {
	retriever  Retriever
	extractor  *extract.Extractor
	chunker    *Chunker
	digests    *fileid.DigestSet
	extensions []string
	maxSize    int64
	minText    int
	logger     *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithChunking sets chunk size and overlap in words.
func WithChunking(size, overlap int) IndexerOption {
	return func(idx *Indexer) { idx.chunker = NewChunker(size, overlap) }
}

// WithAllowedExtensions replaces the upload allow-list.
func WithAllowedExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) {
		if len(exts) == 0 {
			return
		}
		idx.extensions = make([]string, len(exts))
		for i, e := range exts {
			idx.extensions[i] = extract.NormalizeExt(e)
		}
	}
}

// WithMaxFileSize sets the upload size limit in bytes.
func WithMaxFileSize(n int64) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.maxSize = n
		}
	}
}

// WithMinTextLength sets the minimum number of characters an upload must yield.
func WithMinTextLength(n int) IndexerOption {
	return func(idx *Indexer) {
		if n >= 0 {
			idx.minText = n
		}
	}
}

// NewIndexer creates an indexer. The digest set used to skip re-ingesting
// identical files is rebuilt from the chunks the retriever already holds.
func NewIndexer(r Retriever, extractor *extract.Extractor, opts ...IndexerOption) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		retriever:  r,
		extractor:  extractor,
		chunker:    NewChunker(DefaultChunkSize, DefaultChunkOverlap),
		digests:    fileid.NewDigestSet(),
		extensions: DefaultExtensions,
		maxSize:    DefaultMaxFileSize,
		minText:    DefaultMinTextLength,
	}
	for _, opt := range opts {
		opt(idx)
	}
	for _, c := range r.AllDocuments() {
		digest, id := c.MetaString(models.MetaContentSHA256), c.MetaString(models.MetaFileID)
		if digest != "" && id != "" {
			idx.digests.Claim(digest, id)
		}
	}
	return idx
}

// Extensions returns the upload allow-list.
func (idx *Indexer) Extensions() []string {
	return idx.extensions
}

// Allowed reports whether a file name has an allowed extension.
func (idx *Indexer) Allowed(name string) bool {
	return extensionAllowed(filepath.Ext(name), idx.extensions)
}

// UploadText indexes raw text under a new file ID.
func (idx *Indexer) UploadText(ctx context.Context, text, filename string, metadata map[string]any) (*models.UploadResponse, error) {
	return idx.upload(ctx, text, filename, fileid.New(), fileid.ContentDigest([]byte(text)), metadata)
}

// UploadFile validates and extracts an uploaded file, then indexes its text.
func (idx *Indexer) UploadFile(ctx context.Context, name string, content []byte, metadata map[string]any) (*models.UploadResponse, error) {
	text, err := idx.extractUpload(name, content)
	if err != nil {
		return nil, err
	}
	return idx.upload(ctx, text, filepath.Base(name), fileid.New(), fileid.ContentDigest(content), metadata)
}

// IndexPath ingests a file from disk, tagging its chunks with source. A file
// whose content is already indexed is skipped and the existing file ID is
// returned with Skipped set.
func (idx *Indexer) IndexPath(ctx context.Context, path, source string) (*models.UploadResponse, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	if info.Size() > idx.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, absPath, info.Size(), idx.maxSize)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	filename := filepath.Base(absPath)
	digest := fileid.ContentDigest(content)
	fileID := fileid.New()
	if existing, claimed := idx.digests.Claim(digest, fileID); !claimed {
		if idx.logger != nil {
			idx.logger.Debug("indexer skipping already indexed content",
				zap.String("path", absPath),
				zap.String("file_id", existing))
		}
		return &models.UploadResponse{FileID: existing, Filename: filename, Skipped: true}, nil
	}

	text, err := idx.extractUpload(filename, content)
	if err != nil {
		idx.digests.Release(digest, fileID)
		return nil, err
	}
	meta := map[string]any{}
	if source != "" {
		meta[models.MetaSource] = source
	}
	resp, err := idx.upload(ctx, text, filename, fileID, digest, meta)
	if err != nil {
		idx.digests.Release(digest, fileID)
		return nil, err
	}
	return resp, nil
}

// IndexDirectory walks dir recursively and indexes each regular file with an
// allowed extension. It returns the number of files newly indexed.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir, source string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !idx.Allowed(path) {
			return nil
		}
		// Resolve symlinks so only regular files are indexed.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		resp, indexErr := idx.IndexPath(ctx, path, source)
		if indexErr != nil {
			return fmt.Errorf("index %s: %w", path, indexErr)
		}
		if !resp.Skipped {
			n++
		}
		return nil
	})
	return n, err
}

func (idx *Indexer) extractUpload(name string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !extensionAllowed(ext, idx.extensions) {
		return "", fmt.Errorf("%w: %q (allowed: %s)", extract.ErrUnsupportedFormat, ext, strings.Join(idx.extensions, ", "))
	}
	if int64(len(content)) > idx.maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(content), idx.maxSize)
	}
	return idx.extractor.ExtractBytes(content, ext)
}

// upload chunks text and adds it to the retriever. Caller-supplied metadata
// never overrides the keys the indexer owns.
func (idx *Indexer) upload(ctx context.Context, text, filename, fileID, digest string, metadata map[string]any) (*models.UploadResponse, error) {
	text = Preprocess(text)
	if utf8.RuneCountInString(text) < idx.minText {
		return nil, fmt.Errorf("%w: %q yields %d characters, need at least %d",
			ErrNoText, filename, utf8.RuneCountInString(text), idx.minText)
	}

	meta := make(map[string]any, len(metadata)+3)
	maps.Copy(meta, metadata)
	meta[models.MetaFilename] = filename
	meta[models.MetaFileID] = fileID
	meta[models.MetaContentSHA256] = digest

	chunks := idx.chunker.Chunk(text)
	inputs := make([]models.ChunkInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = models.AnnotatedChunk{
			Text:     c,
			Metadata: map[string]any{models.MetaChunkIndex: i},
		}
	}

	n, err := idx.retriever.AddDocuments(ctx, inputs, meta)
	if err != nil {
		return nil, err
	}
	idx.digests.Claim(digest, fileID)

	if idx.logger != nil {
		idx.logger.Debug("indexer file indexed",
			zap.String("filename", filename),
			zap.String("file_id", fileID),
			zap.Int("chunks", n))
	}
	return &models.UploadResponse{FileID: fileID, Filename: filename, Chunks: n}, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := extract.NormalizeExt(ext)
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if extract.NormalizeExt(a) == extNorm {
			return true
		}
	}
	return false
}
