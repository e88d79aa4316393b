package keyword

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kotae/internal/models"
)

const (
	fieldText     = "text"
	fieldFilename = "filename"
)

// indexedChunk is the document shape handed to bleve.
type indexedChunk struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

// BleveIndex is an in-memory bleve index keyed by store position.
type BleveIndex struct {
	index bleve.Index
}

// NewMemIndex creates an empty in-memory index.
func NewMemIndex() (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize, no stemming.
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	docMapping.AddFieldMappingsAt(fieldText, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldFilename, textFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds a single chunk at position.
func (b *BleveIndex) Index(ctx context.Context, position int, chunk models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Index(strconv.Itoa(position), toIndexed(chunk))
}

// IndexBatch adds chunks at consecutive positions starting at start.
func (b *BleveIndex) IndexBatch(ctx context.Context, start int, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for i, c := range chunks {
		if err := batch.Index(strconv.Itoa(start+i), toIndexed(c)); err != nil {
			return fmt.Errorf("failed to batch chunk %d: %w", start+i, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// Search runs a match query over text and filename. When the exact query
// finds nothing and fuzziness is enabled, it retries with fuzzy matching.
// Hits are ordered by score, then by position.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []Hit{}, nil
	}
	o := opts.withDefaults()

	hits, err := b.search(ctx, b.buildQuery(query, o.FilenameBoost, 0), limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && o.Fuzziness > 0 {
		return b.search(ctx, b.buildQuery(query, o.FilenameBoost, o.Fuzziness), limit)
	}
	return hits, nil
}

func (b *BleveIndex) buildQuery(query string, filenameBoost float64, fuzziness int) blevequery.Query {
	text := bleve.NewMatchQuery(query)
	text.SetField(fieldText)
	filename := bleve.NewMatchQuery(query)
	filename.SetField(fieldFilename)
	filename.SetBoost(filenameBoost)
	if fuzziness > 0 {
		text.SetFuzziness(fuzziness)
		filename.SetFuzziness(fuzziness)
	}
	return bleve.NewDisjunctionQuery(text, filename)
}

func (b *BleveIndex) search(ctx context.Context, q blevequery.Query, limit int) ([]Hit, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		out = append(out, Hit{Position: pos, Score: hit.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

// Count returns the number of indexed chunks.
func (b *BleveIndex) Count() (uint64, error) {
	return b.index.DocCount()
}

// Terms returns every distinct term in the text and filename fields with its
// document frequency. Fields without a dictionary are skipped.
func (b *BleveIndex) Terms() (map[string]int, error) {
	terms := make(map[string]int)
	for _, field := range []string{fieldText, fieldFilename} {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			continue
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if int(entry.Count) > terms[entry.Term] {
				terms[entry.Term] = int(entry.Count)
			}
		}
		_ = dict.Close()
	}
	return terms, nil
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func toIndexed(c models.Chunk) indexedChunk {
	return indexedChunk{
		Text:     c.Text,
		Filename: c.MetaString(models.MetaFilename),
	}
}
