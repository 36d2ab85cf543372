package rag

import "time"

// Metrics receives pipeline measurements.
type Metrics interface {
	RecordQuery(outcome string, latency time.Duration)
	RecordStage(stage string, latency time.Duration)
	RecordThreatSuppressed()
	RecordRetrievalDegraded(path string)
	RecordRerankFallback()
}

type noopMetrics struct{}

func (noopMetrics) RecordQuery(string, time.Duration) {}
func (noopMetrics) RecordStage(string, time.Duration) {}
func (noopMetrics) RecordThreatSuppressed()           {}
func (noopMetrics) RecordRetrievalDegraded(string)    {}
func (noopMetrics) RecordRerankFallback()             {}
