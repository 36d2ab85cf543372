// Package fusion merges semantic and keyword retrieval results into a single
// ranked list with comparable scores.
package fusion

import (
	"sort"
	"strings"

	"github.com/finresearch/research-assistant/internal/pkg/hash"
	"github.com/finresearch/research-assistant/internal/qdrant"
	"github.com/finresearch/research-assistant/internal/query"
)

// Method records which retrieval path produced a result.
type Method string

// Retrieval methods.
const (
	MethodSemantic Method = "semantic"
	MethodKeyword  Method = "keyword"
	MethodHybrid   Method = "hybrid"
)

// ScoredResult is a merged passage with its normalized score.
type ScoredResult struct {
	// Passage is the retrieved passage. Its Score keeps the native value.
	Passage qdrant.Passage

	// PassageHash identifies the passage text.
	PassageHash string

	// Score is the fused score in [0,1].
	Score float64

	// SemanticScore is the normalized semantic score (0 if not retrieved semantically).
	SemanticScore float64

	// KeywordScore is the normalized keyword score (0 if not retrieved by keywords).
	KeywordScore float64

	// Method is the path (or both) that found the passage.
	Method Method

	// MatchedKeywords are the query keywords found in the passage text.
	MatchedKeywords []string
}

// NormalizeSemantic maps a cosine similarity onto [0,1]. Negative
// similarities become 0.
func NormalizeSemantic(score float32) float64 {
	s := float64(score)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// NormalizeKeyword divides each sparse score by the maximum of the page.
// Sparse dot products are non-negative, so this is min-max scaling anchored
// at zero. A single result, or a page where every score is equal, maps to 1.
func NormalizeKeyword(passages []qdrant.Passage) []float64 {
	out := make([]float64, len(passages))
	if len(passages) == 0 {
		return out
	}

	maxScore := float64(passages[0].Score)
	allEqual := true
	for _, p := range passages[1:] {
		s := float64(p.Score)
		if s != float64(passages[0].Score) {
			allEqual = false
		}
		if s > maxScore {
			maxScore = s
		}
	}

	for i, p := range passages {
		switch {
		case allEqual, maxScore <= 0:
			out[i] = 1
		default:
			out[i] = max(float64(p.Score), 0) / maxScore
		}
	}
	return out
}

// Fuse merges semantic and keyword results. Passages are keyed by document,
// page and text hash; a passage found by both paths is tagged hybrid and takes
// the larger of its two normalized scores. The result is sorted by score
// descending with ties broken by document name, page and passage hash, so the
// same inputs always produce the same order.
func Fuse(semantic, keyword []qdrant.Passage, keywords []string) []ScoredResult {
	merged := make(map[string]*ScoredResult, len(semantic)+len(keyword))
	order := make([]string, 0, len(semantic)+len(keyword))

	for _, p := range semantic {
		key, h := passageKey(p)
		score := NormalizeSemantic(p.Score)
		if existing, ok := merged[key]; ok {
			// Duplicate point within one path: keep the better score.
			if score > existing.SemanticScore {
				existing.SemanticScore = score
				existing.Score = score
			}
			continue
		}
		merged[key] = &ScoredResult{
			Passage:       p,
			PassageHash:   h,
			Score:         score,
			SemanticScore: score,
			Method:        MethodSemantic,
		}
		order = append(order, key)
	}

	keywordScores := NormalizeKeyword(keyword)
	for i, p := range keyword {
		key, h := passageKey(p)
		score := keywordScores[i]
		matched := query.MatchKeywords(keywords, p.Text)

		existing, ok := merged[key]
		if !ok {
			merged[key] = &ScoredResult{
				Passage:         p,
				PassageHash:     h,
				Score:           score,
				KeywordScore:    score,
				Method:          MethodKeyword,
				MatchedKeywords: matched,
			}
			order = append(order, key)
			continue
		}

		if existing.Method == MethodSemantic {
			existing.Method = MethodHybrid
		}
		existing.KeywordScore = max(existing.KeywordScore, score)
		existing.Score = max(existing.SemanticScore, existing.KeywordScore)
		if len(existing.MatchedKeywords) == 0 {
			existing.MatchedKeywords = matched
		}
	}

	results := make([]ScoredResult, 0, len(order))
	for _, key := range order {
		results = append(results, *merged[key])
	}

	sort.SliceStable(results, func(i, j int) bool {
		return Less(results[i], results[j])
	})

	return results
}

// Less orders results by score descending, then document name, page and
// passage hash ascending.
func Less(a, b ScoredResult) bool {
	return Compare(a.Score, b.Score, a.Passage.DocumentName, b.Passage.DocumentName,
		a.Passage.PageNumber, b.Passage.PageNumber, a.PassageHash, b.PassageHash) < 0
}

// Compare is the ranking order shared by every stage that sorts passages.
// It returns a negative number when the first passage ranks higher.
func Compare(scoreA, scoreB float64, docA, docB string, pageA, pageB int, hashA, hashB string) int {
	switch {
	case scoreA > scoreB:
		return -1
	case scoreA < scoreB:
		return 1
	}
	if c := strings.Compare(docA, docB); c != 0 {
		return c
	}
	switch {
	case pageA < pageB:
		return -1
	case pageA > pageB:
		return 1
	}
	return strings.Compare(hashA, hashB)
}

func passageKey(p qdrant.Passage) (string, string) {
	h := hash.PassageHash(p.Text)
	return hash.PassageKey(p.DocumentName, p.PageNumber, h), h
}
