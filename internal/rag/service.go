// Package rag runs the question answering pipeline: validation, threat
// scoring, budget gate, retrieval, optional reranking, source filtering,
// prompt assembly, generation and cost recording.
package rag

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/finresearch/research-assistant/internal/bus"
	"github.com/finresearch/research-assistant/internal/cost"
	"github.com/finresearch/research-assistant/internal/ml"
	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/pkg/security"
	"github.com/finresearch/research-assistant/internal/prompt"
	"github.com/finresearch/research-assistant/internal/query"
	"github.com/finresearch/research-assistant/internal/search"
	"github.com/finresearch/research-assistant/internal/search/postrank"
	"github.com/finresearch/research-assistant/internal/search/reranker"
)

// Ledger is the budget gate and cost sink.
type Ledger interface {
	CheckBudget(ctx context.Context) error
	Record(ctx context.Context, u cost.Usage) (float64, error)
	Summary(ctx context.Context) (cost.Summary, error)
	Pricing() cost.Pricing
}

// Retriever finds candidate passages.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, keywords []string, topK int) (*search.Retrieval, error)
}

// Reranker re-scores candidates. It never fails.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []search.Candidate) *reranker.Result
}

// Config holds pipeline settings.
type Config struct {
	Limits          security.QueryLimits
	SourceThreshold float64
	ThreatThreshold float64

	// SourceTextLimit truncates passage text in responses. The prompt
	// always receives the full passage.
	SourceTextLimit int
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Limits:          security.DefaultQueryLimits(),
		SourceThreshold: postrank.DefaultScoreThreshold,
		ThreatThreshold: security.DefaultThreatThreshold,
		SourceTextLimit: 500,
	}
}

// Deps are the collaborators of the pipeline. Reranker, Bus and Metrics
// are optional.
type Deps struct {
	Ledger    Ledger
	Embedder  ml.Embedder
	Retriever Retriever
	Reranker  Reranker
	Generator ml.Generator
	Analyzer  *query.Analyzer
	Assembler *prompt.Assembler
	Bus       bus.Bus
	Metrics   Metrics
}

// Request is a raw question as submitted by a caller.
type Request struct {
	Query        string `json:"query"`
	TopK         *int   `json:"top_k,omitempty"`
	UseReranking *bool  `json:"use_reranking,omitempty"`
}

// Source is a cited passage in an answer.
type Source struct {
	DocumentName    string   `json:"document_name"`
	PageNumber      int      `json:"page_number"`
	Text            string   `json:"text"`
	Score           float64  `json:"score"`
	SearchMethod    string   `json:"search_method"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// Answer is the result of a question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Query   string   `json:"query"`
}

// Service runs the pipeline.
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time
	log  *logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for stage timings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the pipeline.
func NewService(deps Deps, cfg Config, log *logger.Logger, opts ...Option) (*Service, error) {
	switch {
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("retriever is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("generator is required")
	}
	if log == nil {
		log = logger.Default()
	}
	if deps.Analyzer == nil {
		deps.Analyzer = query.NewAnalyzer(log)
	}
	if deps.Assembler == nil {
		deps.Assembler = prompt.NewAssembler()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}

	s := &Service{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  log.WithComponent("rag"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubmitQuery answers a question. Every external call is priced as soon as
// it succeeds, so a failed request is charged only for the calls it made.
func (s *Service) SubmitQuery(ctx context.Context, req Request) (*Answer, error) {
	trace := newTrace(s.now())
	var threat security.ThreatAssessment
	sourceCount := 0

	answer, err := s.run(ctx, req, trace, &threat, &sourceCount)
	if err != nil {
		trace.fail(err, s.now())
	}
	s.finish(ctx, trace, threat, sourceCount, err)

	return answer, err
}

func (s *Service) run(ctx context.Context, req Request, trace *Trace, threat *security.ThreatAssessment, sourceCount *int) (*Answer, error) {
	log := s.log.WithContext(ctx)

	// Validated: nothing external happens before this succeeds.
	q, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	*threat = security.ScoreThreat(q.Text)
	s.stage(trace, StateValidated)
	log.Debug("Query validated",
		"query", security.SanitizeForLog(q.Text),
		"top_k", q.TopK,
		"rerank", q.Rerank.String(),
		"threat_score", threat.Score,
		"threat_tags", threat.Tags,
	)

	// BudgetChecked: one check before the first priced call.
	if err := s.deps.Ledger.CheckBudget(ctx); err != nil {
		return nil, err
	}
	s.stage(trace, StateBudgetChecked)

	analysis := s.deps.Analyzer.Analyze(ctx, q.Text)

	emb, err := s.deps.Embedder.Embed(ctx, q.Text)
	// A provider that accepted the call charges for it even if the vector is unusable.
	if (err == nil && !emb.Cached) || (err != nil && emb.Billed) {
		tokens := emb.Tokens
		if tokens == 0 {
			tokens = cost.EstimateEmbeddingTokens(q.Text)
		}
		s.record(ctx, cost.Usage{Category: cost.CategoryEmbedding, Units: tokens})
	}
	if err != nil {
		log.WithError(err).Error("Query embedding failed")
		if !apperrors.IsCode(err, apperrors.CodeRetrieval) {
			err = apperrors.RetrievalError(err)
		}
		return nil, err
	}

	retrieval, err := s.deps.Retriever.Retrieve(ctx, emb.Vector, analysis.Keywords, q.TopK)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.CodeRetrieval) {
			err = apperrors.RetrievalError(err)
		}
		return nil, err
	}
	s.record(ctx, cost.Usage{Category: cost.CategoryVectorQuery, Units: retrieval.Results()})
	if retrieval.Degraded != "" {
		s.deps.Metrics.RecordRetrievalDegraded(retrieval.Degraded)
	}
	s.stage(trace, StateRetrieved)

	candidates := retrieval.Candidates
	if q.Rerank == security.RerankEnabled && s.deps.Reranker != nil && len(candidates) > 0 {
		rr := s.deps.Reranker.Rerank(ctx, q.Text, candidates)
		candidates = rr.Candidates
		if rr.Applied {
			s.record(ctx, cost.Usage{Category: cost.CategoryRerank, Units: 1})
			s.stage(trace, StateReranked)
		} else {
			s.deps.Metrics.RecordRerankFallback()
		}
	}

	filtered := postrank.FilterSources(candidates, *threat, postrank.Options{
		ScoreThreshold:  s.cfg.SourceThreshold,
		ThreatThreshold: s.cfg.ThreatThreshold,
		TopK:            q.TopK,
	})
	*sourceCount = len(filtered.Sources)
	if filtered.Suppressed {
		s.deps.Metrics.RecordThreatSuppressed()
		log.Warn("Sources suppressed for suspicious query",
			"threat_score", threat.Score,
			"threat_tags", threat.Tags,
			"candidates", len(candidates),
		)
	}
	s.stage(trace, StateFiltered)
	log.Debug("Sources filtered",
		"candidates", len(candidates),
		"sources", len(filtered.Sources),
		"below_threshold", filtered.BelowThreshold,
		"truncated", filtered.Truncated,
	)

	p := s.deps.Assembler.Build(q.Text, filtered.Sources, analysis)
	s.stage(trace, StatePromptBuilt)

	completion, err := s.deps.Generator.Generate(ctx, []ml.Message{
		{Role: ml.RoleSystem, Content: p.System},
		{Role: ml.RoleUser, Content: p.User},
	})
	if err != nil {
		log.WithError(err).Error("Answer generation failed")
		return nil, apperrors.GenerationError(err)
	}
	s.stage(trace, StateGenerated)

	input, output := completion.InputTokens, completion.OutputTokens
	if input == 0 && output == 0 {
		input = cost.EstimateTokens(p.System) + cost.EstimateTokens(p.User)
		output = cost.EstimateTokens(completion.Text)
	}
	s.record(ctx, cost.Usage{Category: cost.CategoryGeneration, Units: input, OutputUnits: output})
	s.stage(trace, StateCostRecorded)

	return &Answer{
		Answer:  completion.Text,
		Sources: s.toSources(filtered.Sources),
		Query:   q.Text,
	}, nil
}

func (s *Service) validate(req Request) (security.Query, error) {
	q, err := s.cfg.Limits.Validate(req.Query, req.TopK, req.UseReranking)
	if err == nil {
		return q, nil
	}
	var ve *security.ValidationError
	if stderrors.As(err, &ve) {
		return security.Query{}, apperrors.ValidationError(ve.Field+": "+ve.Constraint, err)
	}
	return security.Query{}, apperrors.ValidationError("invalid request", err)
}

func (s *Service) toSources(candidates []search.Candidate) []Source {
	out := make([]Source, len(candidates))
	for i, c := range candidates {
		text := c.Text
		if s.cfg.SourceTextLimit > 0 {
			text = security.TruncateRunes(text, s.cfg.SourceTextLimit)
		}
		out[i] = Source{
			DocumentName:    c.DocumentName,
			PageNumber:      c.PageNumber,
			Text:            text,
			Score:           c.Score,
			SearchMethod:    string(c.Method),
			MatchedKeywords: c.MatchedKeywords,
		}
	}
	return out
}

// record prices a call. A ledger failure after the call was made is logged;
// the answer is still returned.
func (s *Service) record(ctx context.Context, u cost.Usage) {
	if u.Units == 0 && u.OutputUnits == 0 {
		return
	}
	if _, err := s.deps.Ledger.Record(ctx, u); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("Failed to record cost",
			"category", u.Category,
			"units", u.Units,
		)
	}
}

func (s *Service) stage(trace *Trace, state State) {
	d := trace.advance(state, s.now())
	s.deps.Metrics.RecordStage(string(state), d)
}

// QueryCompleted is the payload published when a request finishes.
type QueryCompleted struct {
	State       State   `json:"state"`
	Kind        string  `json:"kind,omitempty"`
	States      []State `json:"states"`
	LatencyMs   int64   `json:"latency_ms"`
	Sources     int     `json:"sources"`
	ThreatScore float64 `json:"threat_score"`
}

func (s *Service) finish(ctx context.Context, trace *Trace, threat security.ThreatAssessment, sources int, err error) {
	if err == nil {
		trace.advance(StateResponded, s.now())
	}
	latency := trace.Elapsed(s.now())
	s.deps.Metrics.RecordQuery(trace.Outcome(), latency)

	log := s.log.WithContext(ctx).With(
		"state", trace.Terminal(),
		"states", trace.States,
		"latency_ms", latency.Milliseconds(),
	)
	if err != nil {
		log.With("kind", trace.Kind, "error", err.Error()).Info("Query failed")
	} else {
		log.Info("Query answered", "sources", sources)
	}

	if s.deps.Bus == nil {
		return
	}
	payload := QueryCompleted{
		State:       trace.Terminal(),
		Kind:        trace.Kind,
		States:      trace.States,
		LatencyMs:   latency.Milliseconds(),
		Sources:     sources,
		ThreatScore: threat.Score,
	}
	event := bus.NewEvent(bus.TopicQueryCompleted, "rag", logger.RequestIDFromContext(ctx), payload)
	if perr := s.deps.Bus.Publish(ctx, bus.TopicQueryCompleted, event); perr != nil {
		s.log.WithContext(ctx).Warn("Failed to publish query event", "error", perr)
	}
}

// CostSummary returns the current budget position.
func (s *Service) CostSummary(ctx context.Context) (cost.Summary, error) {
	return s.deps.Ledger.Summary(ctx)
}

// Estimate projects the cost of a question without making any call.
func (s *Service) Estimate(req Request) (cost.Estimate, error) {
	q, err := s.validate(req)
	if err != nil {
		return cost.Estimate{}, err
	}
	return s.deps.Ledger.Pricing().EstimateQuery(q.Text, q.TopK, q.Rerank == security.RerankEnabled), nil
}
