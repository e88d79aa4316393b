package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

func flatIndex(t *testing.T, dims int) *vector.FlatIndex {
	t.Helper()
	idx, err := vector.NewFlatIndex(dims)
	require.NoError(t, err)
	return idx
}

const testDims = 16

// tableProvider returns fixed vectors for known texts and falls back to the
// mock provider otherwise. Texts listed in fail make EmbedBatch fail.
type tableProvider struct {
	*embedding.MockProvider
	table      map[string][]float32
	fail       map[string]bool
	afterBatch func()

	mu         sync.Mutex
	embedCalls int
}

func newTableProvider(dims int) *tableProvider {
	return &tableProvider{
		MockProvider: embedding.NewMockProvider(dims),
		table:        map[string][]float32{},
		fail:         map[string]bool{},
	}
}

func (p *tableProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls++
	p.mu.Unlock()
	if p.fail[text] {
		return nil, fmt.Errorf("%w: refused %q", embedding.ErrProvider, text)
	}
	if v, ok := p.table[text]; ok {
		return v, nil
	}
	return p.MockProvider.Embed(ctx, text)
}

func (p *tableProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	if p.afterBatch != nil {
		p.afterBatch()
	}
	return out, nil
}

func (p *tableProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}

// failingPersister fails every commit after the first ok commits.
type failingPersister struct {
	ok      int
	commits int
	ctxErrs []error
}

func (f *failingPersister) Load(ctx context.Context) (*storage.Snapshot, error) {
	return &storage.Snapshot{}, nil
}

func (f *failingPersister) Commit(ctx context.Context, snap *storage.Snapshot, durable int) error {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.commits++
	if f.commits > f.ok {
		return errors.New("disk full")
	}
	return nil
}

func (f *failingPersister) Backend() string { return "failing" }
func (f *failingPersister) Paths() []string { return nil }
func (f *failingPersister) Close() error    { return nil }

func newRetriever(t *testing.T, p embedding.Provider, persister storage.Persister, opts ...Option) *Retriever {
	t.Helper()
	r, err := New(context.Background(), p, flatIndex(t, p.Dimensions()), persister, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func texts(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s chunk number %d", prefix, i)
	}
	return out
}

func TestRetriever_AddDocumentsKeepsLockStep(t *testing.T) {
	idx := flatIndex(t, testDims)
	r, err := New(context.Background(), embedding.NewMockProvider(testDims), idx, nil)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := r.AddDocuments(ctx, models.PlainTexts(texts(4, "a")), map[string]any{models.MetaFilename: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = r.AddDocuments(ctx, models.PlainTexts(texts(3, "b")), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, 7, r.Len())
	assert.Equal(t, 7, idx.Size())

	docs := r.AllDocuments()
	require.Len(t, docs, 7)
	assert.Equal(t, "a chunk number 0", docs[0].Text)
	assert.Equal(t, "a.txt", docs[0].MetaString(models.MetaFilename))
	assert.Equal(t, "b chunk number 2", docs[6].Text)
	assert.NotNil(t, docs[6].Metadata)
}

func TestRetriever_AddDocumentsEmptyIsNoop(t *testing.T) {
	p := newTableProvider(testDims)
	r := newRetriever(t, p, nil)

	n, err := r.AddDocuments(context.Background(), nil, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, p.calls())
}

func TestRetriever_AddDocumentsAnnotatedMetadata(t *testing.T) {
	r := newRetriever(t, embedding.NewMockProvider(testDims), nil)
	inputs := []models.ChunkInput{
		models.PlainText("plain text"),
		models.AnnotatedChunk{Text: "annotated", Metadata: map[string]any{"page": 2, models.MetaFilename: "override.pdf"}},
	}

	_, err := r.AddDocuments(context.Background(), inputs, map[string]any{models.MetaFilename: "base.pdf"})
	require.NoError(t, err)

	docs := r.AllDocuments()
	assert.Equal(t, "base.pdf", docs[0].MetaString(models.MetaFilename))
	assert.Equal(t, "override.pdf", docs[1].MetaString(models.MetaFilename))
	assert.Equal(t, 2, docs[1].Metadata["page"])
}

func TestRetriever_AddDocumentsAllOrNothing(t *testing.T) {
	p := newTableProvider(testDims)
	r := newRetriever(t, p, nil)
	ctx := context.Background()

	_, err := r.AddDocuments(ctx, models.PlainTexts(texts(2, "seed")), nil)
	require.NoError(t, err)

	batch := texts(5, "batch")
	p.fail[batch[2]] = true

	n, err := r.AddDocuments(ctx, models.PlainTexts(batch), nil)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.ErrorIs(t, err, embedding.ErrProvider)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.index.Size())
}

func TestRetriever_AddDocumentsDimensionMismatch(t *testing.T) {
	p := newTableProvider(testDims)
	p.table["short"] = []float32{1, 2, 3}
	r := newRetriever(t, p, nil)

	_, err := r.AddDocuments(context.Background(), models.PlainTexts([]string{"fine", "short"}), nil)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
	assert.Equal(t, 0, r.Len())
}

func TestRetriever_CommitFailureRollsBack(t *testing.T) {
	persister := &failingPersister{ok: 1}
	r := newRetriever(t, embedding.NewMockProvider(testDims), persister)
	ctx := context.Background()

	_, err := r.AddDocuments(ctx, models.PlainTexts(texts(3, "first")), nil)
	require.NoError(t, err)

	_, err = r.AddDocuments(ctx, models.PlainTexts(texts(4, "second")), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.index.Size())
	assert.Equal(t, "first chunk number 2", r.AllDocuments()[2].Text)

	// The rolled-back positions are reused by the next successful batch.
	persister.ok = 10
	_, err = r.AddDocuments(ctx, models.PlainTexts([]string{"third"}), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 4, r.index.Size())
}

func TestRetriever_CancelDoesNotInterruptCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newTableProvider(testDims)
	p.afterBatch = cancel
	persister := &failingPersister{ok: 10}
	r := newRetriever(t, p, persister)

	n, err := r.AddDocuments(ctx, models.PlainTexts(texts(3, "x")), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, persister.ctxErrs, 1)
	assert.NoError(t, persister.ctxErrs[0])
	assert.Equal(t, 3, r.Len())
}

func TestRetriever_SearchEmptyCorpus(t *testing.T) {
	p := newTableProvider(testDims)
	r := newRetriever(t, p, nil)

	got, err := r.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, p.calls())
}

func TestRetriever_SearchNonPositiveK(t *testing.T) {
	r := newRetriever(t, embedding.NewMockProvider(testDims), nil)
	_, err := r.AddDocuments(context.Background(), models.PlainTexts(texts(3, "k")), nil)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), "k", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetriever_SearchClampsToStoredCount(t *testing.T) {
	r := newRetriever(t, embedding.NewMockProvider(testDims), nil)
	_, err := r.AddDocuments(context.Background(), models.PlainTexts(texts(5, "c")), nil)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), "c chunk number 1", 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "c chunk number 1", got[0].Text)
}

func TestRetriever_SearchNearestFirst(t *testing.T) {
	p := newTableProvider(3)
	p.table["The cat sat on the mat"] = []float32{1, 0, 0}
	p.table["Dogs are loyal"] = []float32{0, 1, 0}
	p.table["Cars need fuel"] = []float32{0, 0, 1}
	p.table["kitten"] = []float32{0.9, 0.1, 0}
	r := newRetriever(t, p, nil)

	_, err := r.AddDocuments(context.Background(),
		models.PlainTexts([]string{"The cat sat on the mat", "Dogs are loyal", "Cars need fuel"}), nil)
	require.NoError(t, err)

	got, err := r.Search(context.Background(), "kitten", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "The cat sat on the mat", got[0].Text)
	assert.Equal(t, "Dogs are loyal", got[1].Text)
}

func TestRetriever_SearchProviderFailure(t *testing.T) {
	p := newTableProvider(testDims)
	r := newRetriever(t, p, nil)
	_, err := r.AddDocuments(context.Background(), models.PlainTexts([]string{"stored"}), nil)
	require.NoError(t, err)

	p.fail["broken"] = true
	_, err = r.Search(context.Background(), "broken", 3)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.ErrorIs(t, err, embedding.ErrProvider)
	assert.Equal(t, 1, r.Len())
}

func TestRetriever_ReloadFromFileSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kotae.snap")
	ctx := context.Background()
	p := embedding.NewMockProvider(testDims)

	fs, err := storage.NewFileStore(path)
	require.NoError(t, err)
	r1, err := New(ctx, p, flatIndex(t, testDims), fs)
	require.NoError(t, err)
	_, err = r1.AddDocuments(ctx, models.PlainTexts(texts(6, "persisted")), map[string]any{models.MetaFileID: "f1"})
	require.NoError(t, err)
	before, err := r1.Search(ctx, "persisted chunk number 4", 3)
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	fs2, err := storage.NewFileStore(path)
	require.NoError(t, err)
	r2 := newRetriever(t, p, fs2)

	assert.Equal(t, 6, r2.Len())
	after, err := r2.Search(ctx, "persisted chunk number 4", 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "f1", r2.AllDocuments()[0].MetaString(models.MetaFileID))
}

func chunkTexts(chunks []models.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestRetriever_TwoWritersShareFileSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kotae.snap")
	ctx := context.Background()
	p := embedding.NewMockProvider(testDims)

	open := func() *Retriever {
		fs, err := storage.NewFileStore(path)
		require.NoError(t, err)
		return newRetriever(t, p, fs)
	}
	server := open()
	cli := open()

	_, err := server.AddDocuments(ctx, models.PlainTexts([]string{"server one"}), nil)
	require.NoError(t, err)
	_, err = cli.AddDocuments(ctx, models.PlainTexts([]string{"cli upload"}), nil)
	require.NoError(t, err)
	_, err = server.AddDocuments(ctx, models.PlainTexts([]string{"server two"}), nil)
	require.NoError(t, err)

	want := []string{"server one", "cli upload", "server two"}
	assert.Equal(t, want, chunkTexts(server.AllDocuments()))

	reloaded := open()
	assert.Equal(t, want, chunkTexts(reloaded.AllDocuments()))
	got, err := reloaded.Search(ctx, "cli upload", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cli upload", got[0].Text)
}

func TestRetriever_TwoWritersShareSQLiteSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kotae.db")
	ctx := context.Background()
	p := embedding.NewMockProvider(testDims)

	open := func() *Retriever {
		db, err := storage.NewSQLiteStore(path)
		require.NoError(t, err)
		return newRetriever(t, p, db)
	}
	a := open()
	b := open()

	_, err := a.AddDocuments(ctx, models.PlainTexts([]string{"first"}), nil)
	require.NoError(t, err)
	_, err = b.AddDocuments(ctx, models.PlainTexts([]string{"second"}), nil)
	require.NoError(t, err)
	_, err = a.AddDocuments(ctx, models.PlainTexts([]string{"third"}), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "third"}, chunkTexts(open().AllDocuments()))
}

func TestRetriever_ReloadRejectsDimensionChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kotae.snap")
	ctx := context.Background()

	fs, err := storage.NewFileStore(path)
	require.NoError(t, err)
	r1, err := New(ctx, embedding.NewMockProvider(8), flatIndex(t, 8), fs)
	require.NoError(t, err)
	_, err = r1.AddDocuments(ctx, models.PlainTexts([]string{"eight dims"}), nil)
	require.NoError(t, err)

	_, err = New(ctx, embedding.NewMockProvider(testDims), flatIndex(t, testDims), fs)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, embedding.NewMockProvider(8), flatIndex(t, 16), nil)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	idx := flatIndex(t, 8)
	require.NoError(t, idx.Append(ctx, [][]float32{make([]float32, 8)}))
	_, err = New(ctx, embedding.NewMockProvider(8), idx, nil)
	assert.Error(t, err)
}

func TestRetriever_ConcurrentAdds(t *testing.T) {
	p := embedding.NewMockProvider(testDims)
	r := newRetriever(t, p, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.AddDocuments(ctx, models.PlainTexts(texts(3, fmt.Sprintf("worker%d", w))), nil)
			assert.NoError(t, err)
		}()
	}
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Search(ctx, "worker", 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 30, r.Len())
	require.Equal(t, 30, r.index.Size())
	for i, c := range r.AllDocuments() {
		want, err := p.Embed(ctx, c.Text)
		require.NoError(t, err)
		got, err := r.index.Vector(i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "position %d out of step", i)
	}
}

func TestRetriever_KeywordAndHybridSearch(t *testing.T) {
	kw, err := keyword.NewMemIndex()
	require.NoError(t, err)
	r := newRetriever(t, embedding.NewMockProvider(testDims), nil, WithKeywordIndex(kw))
	ctx := context.Background()

	_, err = r.AddDocuments(ctx, models.PlainTexts([]string{
		"bananas are yellow",
		"the sky is blue",
		"grass is green",
	}), nil)
	require.NoError(t, err)

	got, err := r.KeywordSearch(ctx, "sky", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "the sky is blue", got[0].Text)

	got, err = r.HybridSearch(ctx, "grass", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "grass is green", got[0].Text)

	assert.Equal(t, "bananas", r.Suggest("banannas"))
	assert.Equal(t, 3, r.Stats().KeywordIndexed)
}

func TestRetriever_KeywordDisabled(t *testing.T) {
	r := newRetriever(t, embedding.NewMockProvider(testDims), nil)
	_, err := r.KeywordSearch(context.Background(), "x", 5)
	assert.ErrorIs(t, err, ErrKeywordDisabled)
	_, err = r.HybridSearch(context.Background(), "x", 5)
	assert.ErrorIs(t, err, ErrKeywordDisabled)
	assert.Equal(t, "", r.Suggest("x"))
}

func TestRetriever_Stats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kotae.snap")
	fs, err := storage.NewFileStore(path)
	require.NoError(t, err)
	r := newRetriever(t, embedding.NewMockProvider(testDims), fs)
	ctx := context.Background()

	_, err = r.AddDocuments(ctx, models.PlainTexts(texts(2, "a")), map[string]any{models.MetaFileID: "a"})
	require.NoError(t, err)
	_, err = r.AddDocuments(ctx, models.PlainTexts(texts(1, "b")), map[string]any{models.MetaFileID: "b"})
	require.NoError(t, err)

	s := r.Stats()
	assert.Equal(t, 3, s.Chunks)
	assert.Equal(t, 2, s.Files)
	assert.Equal(t, testDims, s.Dimensions)
	assert.Equal(t, "flat", s.IndexType)
	assert.Equal(t, storage.BackendFile, s.Backend)
	assert.Equal(t, "mock", s.EmbeddingModel)
	assert.Positive(t, s.DiskUsageBytes)
}
