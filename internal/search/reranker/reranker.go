// Package reranker re-scores the top retrieved candidates with a relevance
// model. Reranking is best effort: any failure keeps the retrieval order.
package reranker

import (
	"context"
	"sort"
	"time"

	"github.com/finresearch/research-assistant/internal/ml"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/search"
)

// DefaultCandidates is how many top candidates are sent for re-scoring.
const DefaultCandidates = 20

// Config holds reranking configuration.
type Config struct {
	// Candidates is the number of top candidates sent to the service.
	Candidates int

	// Timeout bounds the rerank call. Zero uses the client's own timeout.
	Timeout time.Duration
}

// Reranker applies a rerank client to retrieved candidates.
type Reranker struct {
	client ml.RerankClient
	cfg    Config
	log    *logger.Logger
}

// New creates a reranker.
func New(client ml.RerankClient, cfg Config, log *logger.Logger) *Reranker {
	if cfg.Candidates <= 0 {
		cfg.Candidates = DefaultCandidates
	}
	if log == nil {
		log = logger.Default()
	}
	return &Reranker{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("reranker"),
	}
}

// Result contains the reranked candidates and metadata.
type Result struct {
	Candidates []search.Candidate

	// Applied is false when the service failed and the input order was kept.
	Applied bool

	// Sent is the number of candidates scored by the service.
	Sent int

	LatencyMs int64
}

// Rerank sends the top candidates to the service and replaces their scores
// with the returned relevance scores. Candidates the service leaves out score
// 0. The scored head is re-sorted and the unsent tail follows unchanged. The
// input slice is never modified.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []search.Candidate) *Result {
	result := &Result{Candidates: search.Clone(candidates)}
	if len(candidates) == 0 || r.client == nil {
		return result
	}

	n := min(len(candidates), r.cfg.Candidates)
	head := search.Clone(candidates[:n])
	tail := search.Clone(candidates[n:])

	documents := make([]string, n)
	for i, c := range head {
		documents[i] = c.Text
	}

	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	ranked, err := r.client.Rerank(callCtx, query, documents)
	result.LatencyMs = time.Since(start).Milliseconds()

	log := r.log.WithContext(ctx)
	if err != nil {
		log.WithError(err).Warn("Reranking failed, using original order", "candidates", n)
		return result
	}

	scores := make(map[int]float64, len(ranked))
	for _, rr := range ranked {
		scores[rr.Index] = float64(rr.Score)
	}
	for i := range head {
		head[i].Score = scores[i]
	}
	sort.SliceStable(head, func(i, j int) bool {
		return search.Compare(head[i], head[j]) < 0
	})

	result.Candidates = append(head, tail...)
	result.Applied = true
	result.Sent = n

	log.Debug("Reranked candidates",
		"sent", n,
		"scored", len(ranked),
		"latency_ms", result.LatencyMs)

	return result
}
