package retrieval

import (
	"sort"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/vector"
)

// FusedResult holds a store position and its fused keyword/semantic scores.
type FusedResult struct {
	Position      int
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores scales keyword scores to [0,1] by the maximum.
func NormalizeKeywordScores(hits []keyword.Hit) map[int]float64 {
	normalized := make(map[int]float64, len(hits))
	if len(hits) == 0 {
		return normalized
	}
	maxScore := hits[0].Score
	for _, h := range hits {
		maxScore = max(maxScore, h.Score)
	}
	for _, h := range hits {
		if maxScore > 0 {
			normalized[h.Position] = h.Score / maxScore
		} else {
			normalized[h.Position] = 0
		}
	}
	return normalized
}

// NormalizeSemanticScores maps squared L2 distances to similarities in (0,1].
func NormalizeSemanticScores(hits []vector.Hit) map[int]float64 {
	normalized := make(map[int]float64, len(hits))
	for _, h := range hits {
		normalized[h.Position] = 1 / (1 + float64(h.Distance))
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights. Results are
// sorted by fused score, then by position.
func Fuse(keywordScores, semanticScores map[int]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[int]*FusedResult, len(keywordScores)+len(semanticScores))
	for pos, score := range keywordScores {
		scoreMap[pos] = &FusedResult{Position: pos, KeywordScore: score}
	}
	for pos, score := range semanticScores {
		if result, ok := scoreMap[pos]; ok {
			result.SemanticScore = score
		} else {
			scoreMap[pos] = &FusedResult{Position: pos, SemanticScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = keywordWeight*result.KeywordScore + semanticWeight*result.SemanticScore
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
	return results
}
