package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/finresearch/research-assistant/internal/bus"
	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/cost"
	"github.com/finresearch/research-assistant/internal/documents"
	"github.com/finresearch/research-assistant/internal/mcp"
	"github.com/finresearch/research-assistant/internal/metrics"
	"github.com/finresearch/research-assistant/internal/ml"
	"github.com/finresearch/research-assistant/internal/observability"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/pkg/middleware"
	"github.com/finresearch/research-assistant/internal/pkg/security"
	"github.com/finresearch/research-assistant/internal/qdrant"
	"github.com/finresearch/research-assistant/internal/rag"
	"github.com/finresearch/research-assistant/internal/search"
	"github.com/finresearch/research-assistant/internal/search/reranker"
)

// QueryService answers questions and reports spend.
type QueryService interface {
	SubmitQuery(ctx context.Context, req rag.Request) (*rag.Answer, error)
	CostSummary(ctx context.Context) (cost.Summary, error)
	Estimate(req rag.Request) (cost.Estimate, error)
}

// DocumentService lists and opens source documents.
type DocumentService interface {
	List(ctx context.Context) ([]documents.Info, error)
	Open(name string) (*os.File, fs.FileInfo, error)
}

// IndexChecker reports vector index reachability.
type IndexChecker interface {
	HealthCheck(ctx context.Context) error
}

// LedgerChecker reports cost store reachability.
type LedgerChecker interface {
	Ping(ctx context.Context) error
}

// ProviderChecker reports which model providers are configured.
type ProviderChecker interface {
	Health() ml.HealthStatus
}

// Components holds everything the server and the MCP command run on.
type Components struct {
	Queries   QueryService
	Documents DocumentService
	Index     IndexChecker
	Ledger    LedgerChecker
	Providers ProviderChecker
	Metrics   *metrics.Metrics
	Activity  *observability.Service
	MCP       *mcp.Server

	// Limiter is shared by the HTTP routes and the MCP ask tool. Nil when
	// rate limiting is disabled.
	Limiter *middleware.RouteRateLimiter

	closers []func() error
}

// Build creates every component from configuration. On error everything
// created so far is closed.
func Build(appCfg *config.Config, version string, log *logger.Logger) (_ *Components, err error) {
	if log == nil {
		log = logger.Default()
	}
	c := &Components{}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if appCfg.Observability.MetricsEnabled {
		c.Metrics = metrics.New()
	}

	if appCfg.RateLimit.Enabled {
		c.Limiter, err = NewLimiter(appCfg.RateLimit, c.Metrics)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error {
			c.Limiter.Stop()
			return nil
		})
	}

	eventBus, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	if c.Metrics != nil {
		eventBus = bus.NewInstrumentedBus(eventBus, c.Metrics)
	}
	c.closers = append(c.closers, eventBus.Close)

	if size := appCfg.Observability.ActivityLogSize; size > 0 {
		c.Activity = observability.NewService(size, log)
		if err := c.Activity.Subscribe(context.Background(), eventBus); err != nil {
			return nil, fmt.Errorf("failed to subscribe activity log: %w", err)
		}
	}

	store, err := cost.NewStore(appCfg.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost store: %w", err)
	}
	ledgerOpts := []cost.Option{cost.WithBus(eventBus)}
	if c.Metrics != nil {
		ledgerOpts = append(ledgerOpts, cost.WithObserver(c.Metrics.ObserveCost))
	}
	ledger := cost.NewLedger(store, cost.LedgerConfigFrom(appCfg.Cost), log, ledgerOpts...)
	c.closers = append(c.closers, ledger.Close)
	c.Ledger = ledger

	qdrantCfg, err := qdrant.ConfigFromSettings(appCfg.Qdrant)
	if err != nil {
		return nil, err
	}
	qc, err := qdrant.NewClient(qdrantCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	c.closers = append(c.closers, qc.Close)
	c.Index = qc

	mlSvc := ml.NewService(appCfg, log)
	if mlSvc.Cache != nil && c.Metrics != nil {
		mlSvc.Cache.SetMetrics(c.Metrics)
	}
	c.Providers = mlSvc

	deps := rag.Deps{
		Ledger:    ledger,
		Embedder:  mlSvc.Embedder,
		Retriever: search.NewRetriever(qc, search.Config{OverfetchFactor: appCfg.Retrieval.OverfetchFactor}, log),
		Generator: mlSvc.Generator,
		Bus:       eventBus,
	}
	if mlSvc.Reranker != nil {
		deps.Reranker = reranker.New(mlSvc.Reranker, reranker.Config{
			Candidates: appCfg.Rerank.Candidates,
			Timeout:    config.Timeout(appCfg.Rerank.TimeoutSeconds),
		}, log)
	}
	if c.Metrics != nil {
		deps.Metrics = c.Metrics
	}

	svc, err := rag.NewService(deps, PipelineConfig(appCfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create query pipeline: %w", err)
	}
	c.Queries = svc

	catalog := documents.NewCatalog(qc, appCfg.Documents.Dir, log)
	c.Documents = catalog

	var mcpOpts []mcp.Option
	if c.Limiter != nil {
		mcpOpts = append(mcpOpts, mcp.WithLimiter(c.Limiter))
	}
	c.MCP, err = mcp.NewServer(svc, catalog, version, log, mcpOpts...)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// NewLimiter creates the rate limiter for the routes in RouteLimits,
// trusting forwarding headers only from the configured proxies.
func NewLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) (*middleware.RouteRateLimiter, error) {
	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	l := middleware.NewRouteRateLimiter(RouteLimits(cfg), time.Minute)
	l.TrustProxies(trusted)
	if m != nil {
		l.OnReject(m.RecordRateLimited)
	}
	return l, nil
}

// PipelineConfig derives the query pipeline settings from configuration.
func PipelineConfig(appCfg *config.Config) rag.Config {
	cfg := rag.DefaultConfig()

	limits := security.DefaultQueryLimits()
	if appCfg.Retrieval.DefaultTopK > 0 {
		limits.DefaultTopK = appCfg.Retrieval.DefaultTopK
	}
	if appCfg.Retrieval.MaxTopK > 0 {
		limits.MaxTopK = appCfg.Retrieval.MaxTopK
	}
	cfg.Limits = limits

	if appCfg.Retrieval.SourceThreshold > 0 {
		cfg.SourceThreshold = appCfg.Retrieval.SourceThreshold
	}
	if appCfg.Retrieval.ThreatThreshold > 0 {
		cfg.ThreatThreshold = appCfg.Retrieval.ThreatThreshold
	}
	if appCfg.Retrieval.SourceTextLimit > 0 {
		cfg.SourceTextLimit = appCfg.Retrieval.SourceTextLimit
	}
	return cfg
}

// HealthChecker builds the health checker over the components.
func (c *Components) HealthChecker() *HealthChecker {
	return NewHealthChecker(c.Index, c.Ledger, c.Providers)
}

// Close releases components in reverse creation order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
