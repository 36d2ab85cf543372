package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finresearch/research-assistant/internal/ml"
	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/qdrant"
	"github.com/finresearch/research-assistant/internal/search/fusion"
)

// ErrNoQueryVector marks the semantic path unavailable because the question
// could not be embedded.
var ErrNoQueryVector = errors.New("no query vector")

// Index is the passage index queried by the retriever.
type Index interface {
	DenseSearch(ctx context.Context, vector []float32, limit uint64) ([]qdrant.Passage, error)
	SparseSearch(ctx context.Context, sparse qdrant.SparseVector, limit uint64) ([]qdrant.Passage, error)
}

// Config configures the retriever.
type Config struct {
	// OverfetchFactor multiplies topK for each path so the filter and
	// reranker have room to work.
	OverfetchFactor int
}

// DefaultConfig returns retriever defaults.
func DefaultConfig() Config {
	return Config{OverfetchFactor: 3}
}

// Retriever runs semantic and keyword queries concurrently and fuses them.
type Retriever struct {
	index Index
	cfg   Config
	log   *logger.Logger
}

// NewRetriever creates a retriever over index.
func NewRetriever(index Index, cfg Config, log *logger.Logger) *Retriever {
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = DefaultConfig().OverfetchFactor
	}
	if log == nil {
		log = logger.Default()
	}
	return &Retriever{
		index: index,
		cfg:   cfg,
		log:   log.WithComponent("retriever"),
	}
}

// Retrieval is the outcome of one retrieval.
type Retrieval struct {
	// Candidates are the fused passages, best first.
	Candidates []Candidate

	// SemanticHits and KeywordHits count raw results per path.
	SemanticHits int
	KeywordHits  int

	// Degraded names the path that failed when the other succeeded.
	Degraded string

	// Latency is the wall time of both queries.
	Latency time.Duration
}

// Results returns the total raw results returned by the index.
func (r *Retrieval) Results() int {
	return r.SemanticHits + r.KeywordHits
}

// Retrieve queries both paths with limit topK*OverfetchFactor. Both run to
// completion; one failing is logged and the survivor is used, both failing
// returns a retrieval error. With no keywords the keyword path is skipped;
// with no vector the semantic path counts as failed.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, keywords []string, topK int) (*Retrieval, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	limit := uint64(topK * r.cfg.OverfetchFactor)
	start := time.Now()

	var (
		semantic, keyword       []qdrant.Passage
		semanticErr, keywordErr error
		g                       errgroup.Group
	)

	// Goroutines report through their own variables and return nil so one
	// failure never cancels the other path.
	if len(vector) == 0 {
		semanticErr = ErrNoQueryVector
	} else {
		g.Go(func() error {
			semantic, semanticErr = r.index.DenseSearch(ctx, vector, limit)
			return nil
		})
	}

	sparse := ml.EncodeKeywords(keywords)
	if len(sparse.Indices) > 0 {
		g.Go(func() error {
			keyword, keywordErr = r.index.SparseSearch(ctx, qdrant.SparseVector{
				Indices: sparse.Indices,
				Values:  sparse.Values,
			}, limit)
			return nil
		})
	}
	_ = g.Wait()

	log := r.log.WithContext(ctx)
	result := &Retrieval{Latency: time.Since(start)}

	switch {
	case semanticErr != nil && (keywordErr != nil || len(sparse.Indices) == 0):
		err := errors.Join(semanticErr, keywordErr)
		log.WithError(err).Error("All retrieval paths failed")
		return nil, apperrors.RetrievalError(err)
	case semanticErr != nil:
		log.WithError(semanticErr).Warn("Semantic search failed, continuing with keyword results")
		result.Degraded = string(MethodSemantic)
	case keywordErr != nil:
		log.WithError(keywordErr).Warn("Keyword search failed, continuing with semantic results")
		result.Degraded = string(MethodKeyword)
	}

	result.SemanticHits = len(semantic)
	result.KeywordHits = len(keyword)

	fused := fusion.Fuse(semantic, keyword, keywords)
	result.Candidates = make([]Candidate, len(fused))
	for i, f := range fused {
		result.Candidates[i] = FromFused(f)
	}

	log.Debug("Retrieved candidates",
		"semantic", result.SemanticHits,
		"keyword", result.KeywordHits,
		"candidates", len(result.Candidates),
		"latency_ms", result.Latency.Milliseconds(),
	)

	return result, nil
}
