// Package retrieval owns the vector index and the document store, keeps them
// in lock-step, and answers nearest-neighbour queries over them.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/docstore"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

var (
	// ErrEmbeddingFailure is returned when the embedding provider cannot embed
	// a batch or a query. It wraps the provider's error.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrKeywordDisabled is returned by keyword and hybrid search when no keyword index is configured.
	ErrKeywordDisabled = errors.New("keyword index is disabled")
)

const backendMemory = "memory"

// Retriever pairs a vector index with a document store. Position i in the
// index and position i in the store always describe the same chunk.
type Retriever struct {
	mu        sync.RWMutex
	index     vector.VectorIndex
	store     *docstore.Store
	provider  embedding.Provider
	persister storage.Persister
	keyword   *keyword.BleveIndex
	suggester *keyword.Suggester

	keywordWeight  float64
	semanticWeight float64
	logger         *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithKeywordIndex enables keyword and hybrid search backed by idx.
func WithKeywordIndex(idx *keyword.BleveIndex) Option {
	return func(r *Retriever) {
		r.keyword = idx
		if idx != nil {
			r.suggester = keyword.NewSuggester(2)
		}
	}
}

// WithHybridWeights sets the keyword and semantic weights used by HybridSearch.
func WithHybridWeights(keywordWeight, semanticWeight float64) Option {
	return func(r *Retriever) {
		if keywordWeight >= 0 && semanticWeight >= 0 && keywordWeight+semanticWeight > 0 {
			r.keywordWeight = keywordWeight
			r.semanticWeight = semanticWeight
		}
	}
}

// New creates a Retriever over an empty index and restores any snapshot the
// persister holds. A nil persister keeps everything in memory.
func New(ctx context.Context, provider embedding.Provider, index vector.VectorIndex, persister storage.Persister, opts ...Option) (*Retriever, error) {
	if provider == nil || index == nil {
		return nil, errors.New("retriever needs an embedding provider and a vector index")
	}
	if provider.Dimensions() != index.Dimensions() {
		return nil, fmt.Errorf("%w: provider produces %d dimensions, index expects %d",
			vector.ErrDimensionMismatch, provider.Dimensions(), index.Dimensions())
	}
	if index.Size() != 0 {
		return nil, fmt.Errorf("vector index must be empty, has %d vectors", index.Size())
	}

	r := &Retriever{
		index:          index,
		store:          docstore.New(),
		provider:       provider,
		persister:      persister,
		keywordWeight:  0.5,
		semanticWeight: 0.5,
	}
	for _, opt := range opts {
		opt(r)
	}

	if persister != nil {
		if err := r.restore(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Retriever) restore(ctx context.Context) error {
	snap, err := r.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap.Len() == 0 {
		return nil
	}
	if snap.Dimensions != r.index.Dimensions() {
		return fmt.Errorf("%w: snapshot has %d dimensions, index expects %d",
			vector.ErrDimensionMismatch, snap.Dimensions, r.index.Dimensions())
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := r.index.Append(ctx, snap.Vectors); err != nil {
		return fmt.Errorf("failed to restore vectors: %w", err)
	}
	r.store.Append(snap.Chunks...)
	r.indexKeywords(ctx, 0, snap.Chunks)

	if r.logger != nil {
		r.logger.Info("Restored snapshot",
			zap.Int("chunks", snap.Len()),
			zap.Int("dimensions", snap.Dimensions),
			zap.String("backend", r.persister.Backend()))
	}
	return nil
}

// AddDocuments embeds every input and appends the chunks to the index and the
// store, then persists the result. It is all-or-nothing: on any failure none
// of the batch is kept. It returns the number of chunks added.
//
// Once the write lock is held the batch runs to completion even if ctx is
// cancelled, so a commit is never interrupted halfway. When another process
// has committed to the same snapshot in the meantime, its chunks are loaded
// first and the batch is committed after them.
func (r *Retriever) AddDocuments(ctx context.Context, inputs []models.ChunkInput, metadata map[string]any) (int, error) {
	chunks := models.ResolveChunks(inputs, metadata)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: %w: got %d embeddings for %d chunks",
			ErrEmbeddingFailure, embedding.ErrProvider, len(vectors), len(chunks))
	}
	dim := r.index.Dimensions()
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: chunk %d has %d dimensions, index expects %d",
				vector.ErrDimensionMismatch, i, len(v), dim)
		}
	}

	commitCtx := context.WithoutCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	base, err := r.appendAndCommit(commitCtx, vectors, chunks)
	if errors.Is(err, storage.ErrOutOfSync) {
		// Another process committed to the same snapshot since we loaded it.
		if syncErr := r.catchUp(commitCtx); syncErr != nil {
			return 0, errors.Join(err, syncErr)
		}
		base, err = r.appendAndCommit(commitCtx, vectors, chunks)
	}
	if err != nil {
		return 0, err
	}

	r.indexKeywords(commitCtx, base, chunks)

	if r.logger != nil {
		r.logger.Debug("Added chunks",
			zap.Int("added", len(chunks)),
			zap.Int("total", r.store.Len()))
	}
	return len(chunks), nil
}

// appendAndCommit appends the batch to both containers and persists it,
// rolling back on failure. It returns the position of the first new chunk.
// Caller holds the write lock.
func (r *Retriever) appendAndCommit(ctx context.Context, vectors [][]float32, chunks []models.Chunk) (int, error) {
	base := r.store.Len()
	if err := r.index.Append(ctx, vectors); err != nil {
		return base, fmt.Errorf("failed to append vectors: %w", err)
	}
	r.store.Append(chunks...)

	if r.persister == nil {
		return base, nil
	}
	snap := &storage.Snapshot{
		Dimensions: r.index.Dimensions(),
		Vectors:    r.index.Vectors(),
		Chunks:     r.store.All(),
	}
	if err := r.persister.Commit(ctx, snap, base); err != nil {
		r.rollback(base)
		return base, fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return base, nil
}

// catchUp loads the stored snapshot and appends the entries committed by
// other writers. The stored snapshot must extend what is held in memory.
// Caller holds the write lock.
func (r *Retriever) catchUp(ctx context.Context) error {
	snap, err := r.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload snapshot: %w", err)
	}
	have := r.store.Len()
	if snap.Len() < have {
		return fmt.Errorf("%w: stored snapshot has %d chunks, memory has %d", storage.ErrOutOfSync, snap.Len(), have)
	}
	if snap.Len() == have {
		return nil
	}
	if snap.Dimensions != r.index.Dimensions() {
		return fmt.Errorf("%w: snapshot has %d dimensions, index expects %d",
			vector.ErrDimensionMismatch, snap.Dimensions, r.index.Dimensions())
	}
	if err := r.index.Append(ctx, snap.Vectors[have:]); err != nil {
		return fmt.Errorf("failed to append stored vectors: %w", err)
	}
	r.store.Append(snap.Chunks[have:]...)
	r.indexKeywords(ctx, have, snap.Chunks[have:])

	if r.logger != nil {
		r.logger.Info("Adopted chunks committed by another writer",
			zap.Int("adopted", snap.Len()-have),
			zap.Int("total", snap.Len()))
	}
	return nil
}

// rollback restores both containers to n entries. Caller holds the write lock.
func (r *Retriever) rollback(n int) {
	if err := r.index.Truncate(n); err != nil && r.logger != nil {
		r.logger.Error("Failed to roll back vector index", zap.Int("size", n), zap.Error(err))
	}
	if err := r.store.Truncate(n); err != nil && r.logger != nil {
		r.logger.Error("Failed to roll back document store", zap.Int("size", n), zap.Error(err))
	}
}

// indexKeywords feeds chunks into the keyword index. Failures are logged
// only; the keyword index is derived state.
func (r *Retriever) indexKeywords(ctx context.Context, start int, chunks []models.Chunk) {
	if r.keyword == nil {
		return
	}
	if err := r.keyword.IndexBatch(ctx, start, chunks); err != nil && r.logger != nil {
		r.logger.Warn("Failed to index chunks for keyword search",
			zap.Int("start", start),
			zap.Int("count", len(chunks)),
			zap.Error(err))
	}
}

// Search returns up to topK chunks nearest to query, nearest first. An empty
// corpus returns an empty slice without calling the provider.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]models.Chunk, error) {
	hits, err := r.semanticHits(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunksAt(positions(hits))
}

func (r *Retriever) semanticHits(ctx context.Context, query string, topK int) ([]vector.Hit, error) {
	if topK <= 0 || r.Len() == 0 {
		return []vector.Hit{}, nil
	}

	q, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	hits, err := r.index.Search(ctx, q, min(topK, r.index.Size()))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

// KeywordSearch runs a full-text query. Hits are ordered by score.
func (r *Retriever) KeywordSearch(ctx context.Context, query string, limit int) ([]models.Chunk, error) {
	if r.keyword == nil {
		return nil, ErrKeywordDisabled
	}
	hits, err := r.keyword.Search(ctx, query, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	pos := make([]int, len(hits))
	for i, h := range hits {
		pos[i] = h.Position
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunksAt(pos)
}

// HybridSearch fuses keyword and semantic candidates by weighted score.
func (r *Retriever) HybridSearch(ctx context.Context, query string, limit int) ([]models.Chunk, error) {
	if r.keyword == nil {
		return nil, ErrKeywordDisabled
	}
	if limit <= 0 {
		return []models.Chunk{}, nil
	}
	candidates := max(limit*4, 20)

	semantic, err := r.semanticHits(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	kw, err := r.keyword.Search(ctx, query, candidates, nil)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	fused := Fuse(NormalizeKeywordScores(kw), NormalizeSemanticScores(semantic), r.keywordWeight, r.semanticWeight)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	pos := make([]int, len(fused))
	for i, f := range fused {
		pos[i] = f.Position
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chunksAt(pos)
}

// Suggest offers a spelling correction for query from the indexed terms.
// It returns "" when keyword search is disabled or nothing needs correcting.
func (r *Retriever) Suggest(query string) string {
	if r.keyword == nil {
		return ""
	}
	terms, err := r.keyword.Terms()
	if err != nil {
		if r.logger != nil {
			r.logger.Debug("Failed to read keyword terms", zap.Error(err))
		}
		return ""
	}
	return r.suggester.Suggest(query, terms)
}

// chunksAt maps positions to chunks. Caller holds the read lock.
func (r *Retriever) chunksAt(pos []int) ([]models.Chunk, error) {
	out := make([]models.Chunk, 0, len(pos))
	for _, p := range pos {
		c, err := r.store.Get(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func positions(hits []vector.Hit) []int {
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.Position
	}
	return out
}

// AllDocuments returns every chunk in insertion order.
func (r *Retriever) AllDocuments() []models.Chunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.All()
}

// Len returns the number of stored chunks.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Len()
}

// Stats describes the retriever's state.
type Stats struct {
	Chunks         int
	Files          int
	Dimensions     int
	IndexType      string
	Backend        string
	EmbeddingModel string
	KeywordIndexed int
	DiskUsageBytes int64
}

// Stats reports counts and backend details.
func (r *Retriever) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := make(map[string]struct{})
	for _, c := range r.store.All() {
		if id := c.MetaString(models.MetaFileID); id != "" {
			files[id] = struct{}{}
		}
	}
	s := Stats{
		Chunks:         r.store.Len(),
		Files:          len(files),
		Dimensions:     r.index.Dimensions(),
		IndexType:      r.index.Type(),
		Backend:        backendMemory,
		EmbeddingModel: r.provider.Model(),
	}
	if r.persister != nil {
		s.Backend = r.persister.Backend()
		if n, err := storage.DiskUsageBytes(r.persister.Paths()...); err == nil {
			s.DiskUsageBytes = n
		}
	}
	if r.keyword != nil {
		if n, err := r.keyword.Count(); err == nil {
			s.KeywordIndexed = int(n)
		}
	}
	return s
}

// Close releases the keyword index, the persister and the vector index.
// The embedding provider belongs to the caller.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.keyword != nil {
		errs = append(errs, r.keyword.Close())
	}
	if r.persister != nil {
		errs = append(errs, r.persister.Close())
	}
	errs = append(errs, r.index.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close retriever: %w", err)
	}
	return nil
}
