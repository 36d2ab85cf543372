package server

import (
	"context"
	"net/http"
	"time"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status     string               `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime,omitempty"`
	Components map[string]Component `json:"components"`
}

// Component represents a component's health.
type Component struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// HealthChecker checks the index, the cost store and provider configuration.
type HealthChecker struct {
	index     IndexChecker
	ledger    LedgerChecker
	providers ProviderChecker
}

// NewHealthChecker creates a new health checker. Nil collaborators report
// as unhealthy.
func NewHealthChecker(index IndexChecker, ledger LedgerChecker, providers ProviderChecker) *HealthChecker {
	return &HealthChecker{
		index:     index,
		ledger:    ledger,
		providers: providers,
	}
}

// Check performs a full health check. The index or cost store being down
// makes the service unhealthy; missing provider credentials degrade it.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]Component),
	}

	status.Components["providers"] = h.checkProviders()

	var indexCheck, ledgerCheck func(context.Context) error
	if h.index != nil {
		indexCheck = h.index.HealthCheck
	}
	if h.ledger != nil {
		ledgerCheck = h.ledger.Ping
	}
	status.Components["qdrant"] = timed(ctx, "Qdrant client", indexCheck)
	status.Components["cost_ledger"] = timed(ctx, "cost ledger", ledgerCheck)

	for _, c := range status.Components {
		switch {
		case c.Status == StatusUnhealthy:
			status.Status = StatusUnhealthy
		case c.Status == StatusDegraded && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) checkProviders() Component {
	if h.providers == nil {
		return Component{Status: StatusUnhealthy, Message: "providers not configured"}
	}

	health := h.providers.Health()
	if !health.Healthy {
		return Component{Status: StatusDegraded, Message: health.Error}
	}
	if !health.Configured["rerank"] {
		return Component{Status: StatusHealthy, Message: "reranking disabled"}
	}
	return Component{Status: StatusHealthy, Message: "configured"}
}

func timed(ctx context.Context, name string, check func(context.Context) error) Component {
	if check == nil {
		return Component{Status: StatusUnhealthy, Message: name + " not configured"}
	}

	start := time.Now()
	err := check(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Component{Status: StatusUnhealthy, Message: "unreachable", Latency: latency}
	}
	return Component{Status: StatusHealthy, Message: "connected", Latency: latency}
}

// HealthHandler handles health check HTTP requests.
type HealthHandler struct {
	checker   *HealthChecker
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker *HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		startTime: time.Now(),
		version:   version,
	}
}

// HandleHealth handles GET /health. It reports component status but always
// answers 200 while the process is up.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, h.status(ctx))
}

// HandleReady handles GET /health/ready. Unhealthy answers 503.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.status(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *HealthHandler) status(ctx context.Context) HealthStatus {
	status := h.checker.Check(ctx)
	status.Version = h.version
	status.Uptime = time.Since(h.startTime).Round(time.Second).String()
	return status
}

// RegisterRoutes registers health routes with the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /health/ready", h.HandleReady)
}
