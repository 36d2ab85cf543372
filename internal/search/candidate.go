// Package search retrieves candidate passages for a question by combining
// semantic and keyword queries against the passage index.
package search

import (
	"sort"

	"github.com/finresearch/research-assistant/internal/search/fusion"
)

// Method is the retrieval path that produced a candidate.
type Method string

// Retrieval methods as reported to callers.
const (
	MethodSemantic Method = "semantic"
	MethodKeyword  Method = "keyword"
	MethodHybrid   Method = "hybrid"
)

// Candidate is a retrieved passage with its normalized relevance score.
type Candidate struct {
	DocumentName    string   `json:"document_name"`
	PageNumber      int      `json:"page_number"`
	Text            string   `json:"text"`
	PassageHash     string   `json:"-"`
	Score           float64  `json:"score"`
	Method          Method   `json:"search_method"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// FromFused converts a fused result.
func FromFused(r fusion.ScoredResult) Candidate {
	return Candidate{
		DocumentName:    r.Passage.DocumentName,
		PageNumber:      r.Passage.PageNumber,
		Text:            r.Passage.Text,
		PassageHash:     r.PassageHash,
		Score:           r.Score,
		Method:          Method(r.Method),
		MatchedKeywords: r.MatchedKeywords,
	}
}

// Compare ranks a before b when it returns a negative number.
func Compare(a, b Candidate) int {
	return fusion.Compare(a.Score, b.Score, a.DocumentName, b.DocumentName,
		a.PageNumber, b.PageNumber, a.PassageHash, b.PassageHash)
}

// Sorted returns a sorted copy of candidates. The input is not modified.
func Sorted(candidates []Candidate) []Candidate {
	out := Clone(candidates)
	sort.SliceStable(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}

// Clone returns a copy of candidates that shares no slice storage with the input.
func Clone(candidates []Candidate) []Candidate {
	if candidates == nil {
		return nil
	}
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		if c.MatchedKeywords != nil {
			c.MatchedKeywords = append([]string(nil), c.MatchedKeywords...)
		}
		out[i] = c
	}
	return out
}
