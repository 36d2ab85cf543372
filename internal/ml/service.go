package ml

import (
	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// Service groups the model clients built from configuration.
type Service struct {
	Embedder  *OpenAIEmbedder
	Generator *ChatGenerator
	Reranker  *CohereReranker
	Cache     *EmbeddingCache
}

// HealthStatus represents service health.
type HealthStatus struct {
	Healthy    bool            `json:"healthy"`
	Configured map[string]bool `json:"configured"`
	Cache      *CacheStats     `json:"cache,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewService creates the model clients. The reranker is nil when disabled.
func NewService(cfg *config.Config, log *logger.Logger) *Service {
	s := &Service{}

	if cfg.Embedding.CacheSize > 0 {
		s.Cache = NewEmbeddingCache(cfg.Embedding.CacheSize)
	}
	s.Embedder = NewEmbedder(cfg.Embedding, s.Cache, log)
	s.Generator = NewGenerator(cfg.LLM, log)
	if cfg.Rerank.Enabled {
		s.Reranker = NewReranker(cfg.Rerank, log)
	}

	return s
}

// Health reports which providers have credentials. It makes no calls.
func (s *Service) Health() HealthStatus {
	status := HealthStatus{
		Healthy:    true,
		Configured: make(map[string]bool),
	}

	status.Configured["embedding"] = s.Embedder != nil && s.Embedder.Configured()
	status.Configured["llm"] = s.Generator != nil && s.Generator.Configured()
	status.Configured["rerank"] = s.Reranker != nil && s.Reranker.Configured()

	if s.Cache != nil {
		stats := s.Cache.Stats()
		status.Cache = &stats
	}

	// Reranking is optional; the other two are required to answer.
	if !status.Configured["embedding"] || !status.Configured["llm"] {
		status.Healthy = false
		status.Error = "required providers not configured"
	}

	return status
}
