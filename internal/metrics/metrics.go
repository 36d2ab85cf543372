// Package metrics exposes Prometheus metrics for the research assistant.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finresearch/research-assistant/internal/cost"
)

const namespace = "research"

// Metrics holds all application metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Query pipeline
	QueriesTotal      *prometheus.CounterVec   // labels: outcome
	QueryLatency      *prometheus.HistogramVec // labels: outcome
	StageDuration     *prometheus.HistogramVec // labels: stage
	ThreatSuppressed  prometheus.Counter
	RetrievalDegraded *prometheus.CounterVec // labels: path
	RerankFallbacks   prometheus.Counter
	RateLimitRejected *prometheus.CounterVec // labels: route
	BudgetRejections  prometheus.Counter

	// Cost ledger
	CostUSD        *prometheus.CounterVec // labels: category
	CostUnits      *prometheus.CounterVec // labels: category
	DailyCostTotal prometheus.Gauge

	// Cache
	CacheHits   *prometheus.CounterVec // labels: type
	CacheMisses *prometheus.CounterVec // labels: type
	CacheSize   *prometheus.GaugeVec   // labels: type

	// Bus
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic

	// HTTP
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates a metrics instance with a fresh registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	latencyBuckets := []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

	return &Metrics{
		registry: reg,

		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by outcome (ok or an error code).",
		}, []string{"outcome"}),
		QueryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   latencyBuckets,
		}, []string{"stage"}),
		ThreatSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threat_suppressed_total",
			Help:      "Queries whose sources were withheld because of the threat score.",
		}),
		RetrievalDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals that continued after one search path failed.",
		}, []string{"path"}),
		RerankFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallback_total",
			Help:      "Rerank requests that kept the original order.",
		}),
		RateLimitRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		BudgetRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_rejections_total",
			Help:      "Queries rejected because the daily budget was spent.",
		}),

		CostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Spend on external calls in US dollars.",
		}, []string{"category"}),
		CostUnits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_units_total",
			Help:      "Priced units (tokens, results or searches).",
		}, []string{"category"}),
		DailyCostTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cost_daily_total_usd",
			Help:      "Running total for the current budget day.",
		}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits.",
		}, []string{"type"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses.",
		}, []string{"type"}),
		CacheSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries held in the cache.",
		}, []string{"type"}),

		BusEventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events published to the bus.",
		}, []string{"topic"}),
		BusEventLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Bus publish latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"topic"}),
		BusErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_errors_total",
			Help:      "Failed bus publishes.",
		}, []string{"topic"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   latencyBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests being served.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordQuery records a finished query.
func (m *Metrics) RecordQuery(outcome string, latency time.Duration) {
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryLatency.WithLabelValues(outcome).Observe(latency.Seconds())
	if outcome == "BUDGET_EXCEEDED" {
		m.BudgetRejections.Inc()
	}
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(stage string, latency time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(latency.Seconds())
}

// RecordThreatSuppressed counts a query whose sources were withheld.
func (m *Metrics) RecordThreatSuppressed() {
	m.ThreatSuppressed.Inc()
}

// RecordRetrievalDegraded counts a retrieval where the named path failed.
func (m *Metrics) RecordRetrievalDegraded(path string) {
	m.RetrievalDegraded.WithLabelValues(path).Inc()
}

// RecordRerankFallback counts a rerank that kept the original order.
func (m *Metrics) RecordRerankFallback() {
	m.RerankFallbacks.Inc()
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited(route string) {
	m.RateLimitRejected.WithLabelValues(route).Inc()
}

// ObserveCost is a cost.Observer.
func (m *Metrics) ObserveCost(ev cost.Event, dailyTotal float64) {
	category := string(ev.Category)
	m.CostUSD.WithLabelValues(category).Add(ev.CostUSD)
	m.CostUnits.WithLabelValues(category).Add(float64(ev.Units + ev.OutputUnits))
	m.DailyCostTotal.Set(dailyTotal)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// UpdateCacheSize sets the cache size gauge.
func (m *Metrics) UpdateCacheSize(cacheType string, size int) {
	m.CacheSize.WithLabelValues(cacheType).Set(float64(size))
}

// RecordBusPublish records a bus publish.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}

// RecordHTTP records one HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, latency time.Duration) {
	path = normalizePath(path)
	m.HTTPRequests.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(latency.Seconds())
}
