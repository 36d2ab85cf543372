// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/mcp"
	"github.com/finresearch/research-assistant/internal/metrics"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/pkg/middleware"
)

// Server is the main HTTP server.
type Server struct {
	cfg        Config
	appCfg     *config.Config
	log        *logger.Logger
	httpServer *http.Server

	components *Components
	api        *API
	health     *HealthHandler
	limiter    *middleware.RouteRateLimiter

	mu      sync.RWMutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout. It must outlast a full
	// embed, retrieve, rerank and generate round.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// New builds every component from appCfg and the server around them.
func New(cfg Config, appCfg *config.Config, log *logger.Logger) (*Server, error) {
	components, err := Build(appCfg, cfg.Version, log)
	if err != nil {
		return nil, err
	}
	return NewWithComponents(cfg, appCfg, components, log), nil
}

// NewWithComponents creates a server around already built components.
func NewWithComponents(cfg Config, appCfg *config.Config, components *Components, log *logger.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg:        cfg,
		appCfg:     appCfg,
		log:        log.WithComponent("server"),
		components: components,
	}

	s.api = NewAPI(components.Queries, components.Documents, log)
	if components.Activity != nil {
		s.api.activity = components.Activity
	}
	s.health = NewHealthHandler(components.HealthChecker(), cfg.Version)

	switch {
	case components.Limiter != nil:
		s.limiter = components.Limiter
	case appCfg.RateLimit.Enabled:
		limiter, err := NewLimiter(appCfg.RateLimit, components.Metrics)
		if err != nil {
			// Validate rejects this at load time.
			s.log.WithError(err).Warn("Trusting no proxies")
			limiter = middleware.NewRouteRateLimiter(RouteLimits(appCfg.RateLimit), time.Minute)
			if components.Metrics != nil {
				limiter.OnReject(components.Metrics.RecordRateLimited)
			}
		}
		s.limiter = limiter
	}

	return s
}

// RouteLimits maps the configured per-route allowances onto request paths.
func RouteLimits(cfg config.RateLimitConfig) map[string]middleware.RouteLimit {
	return map[string]middleware.RouteLimit{
		"/api/v1/query":     {PerMinute: cfg.QueryPerMinute, Burst: cfg.Burst},
		"/api/v1/estimate":  {PerMinute: cfg.QueryPerMinute, Burst: cfg.Burst},
		"/api/v1/costs":     {PerMinute: cfg.CostsPerMinute},
		"/api/v1/documents": {PerMinute: cfg.DocumentsPerMinute},
		"/api/v1/activity":  {PerMinute: cfg.CostsPerMinute},
		mcp.AskRoute:        {PerMinute: cfg.QueryPerMinute, Burst: cfg.Burst},
	}
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and closes every component.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.components.Close(); err != nil {
		s.log.Error("Closing components failed", "error", err)
	}

	s.started = false
	s.log.Info("Server stopped")

	return nil
}

// Handler returns the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	mux := s.setupRoutes()

	var handler http.Handler = mux
	handler = middleware.MaxBodySize(s.appCfg.Security.MaxRequestBytes)(handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = middleware.CORS(s.appCfg.CORSOriginList())(handler)

	if m := s.components.Metrics; m != nil {
		handler = metrics.HTTPMiddleware(m, handler)
	}
	handler = middleware.Logging(s.log, nil)(handler)

	return middleware.RequestID(handler)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	s.health.RegisterRoutes(mux)
	s.api.RegisterRoutes(mux)

	if m := s.components.Metrics; m != nil {
		path := s.appCfg.Observability.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, m.Handler())
	}

	if s.components.MCP != nil && s.appCfg.Observability.MCPEnabled {
		mux.Handle("/mcp", s.components.MCP.HTTPHandler())
	}

	return mux
}

// Health reports whether the server is running.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
