package ml

import (
	"context"
	"fmt"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// RankedResult is a document index with its relevance score.
type RankedResult struct {
	Index int
	Score float32
}

// RerankClient scores documents against a query.
type RerankClient interface {
	Rerank(ctx context.Context, query string, documents []string) ([]RankedResult, error)
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// CohereReranker calls a Cohere-compatible /rerank endpoint.
type CohereReranker struct {
	http  httpProvider
	model string
	log   *logger.Logger
}

// NewReranker creates a rerank client.
func NewReranker(cfg config.RerankConfig, log *logger.Logger) *CohereReranker {
	if log == nil {
		log = logger.Default()
	}
	return &CohereReranker{
		http:  newHTTPProvider("rerank", cfg.BaseURL, cfg.APIKey, config.Timeout(cfg.TimeoutSeconds)),
		model: cfg.Model,
		log:   log.WithComponent("rerank-client"),
	}
}

// Configured reports whether an API key is present.
func (r *CohereReranker) Configured() bool {
	return r.http.configured()
}

// Rerank returns the service's relevance scores, best first. Documents the
// service does not return are absent from the result.
func (r *CohereReranker) Rerank(ctx context.Context, query string, documents []string) ([]RankedResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	var resp rerankResponse
	err := r.http.postJSON(ctx, "/rerank", rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	}, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]RankedResult, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			return nil, fmt.Errorf("rerank: result index %d out of range", res.Index)
		}
		results = append(results, RankedResult{Index: res.Index, Score: res.RelevanceScore})
	}

	r.log.WithContext(ctx).Debug("Reranked documents", "documents", len(documents), "results", len(results))

	return results, nil
}
