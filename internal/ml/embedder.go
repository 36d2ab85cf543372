package ml

import (
	"context"
	"fmt"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// Embedding is a dense query vector and the tokens billed for it.
// Cached embeddings report zero tokens.
type Embedding struct {
	Vector []float32
	Tokens int
	Cached bool

	// Billed is set when the provider accepted the call. Embed can return
	// a billed Embedding together with an error when the response is unusable.
	Billed bool
}

// Embedder converts text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	http       httpProvider
	model      string
	dimensions int
	cache      *EmbeddingCache
	log        *logger.Logger
}

// NewEmbedder creates an embedder. cache may be nil.
func NewEmbedder(cfg config.EmbeddingConfig, cache *EmbeddingCache, log *logger.Logger) *OpenAIEmbedder {
	if log == nil {
		log = logger.Default()
	}
	return &OpenAIEmbedder{
		http:       newHTTPProvider("embedding", cfg.BaseURL, cfg.APIKey, config.Timeout(cfg.TimeoutSeconds)),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		cache:      cache,
		log:        log.WithComponent("embedder"),
	}
}

// Configured reports whether an API key is present.
func (e *OpenAIEmbedder) Configured() bool {
	return e.http.configured()
}

// Embed returns the vector for text, from the cache when possible.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	if e.cache != nil {
		if vec, ok := e.cache.Get(text); ok {
			return Embedding{Vector: vec, Cached: true}, nil
		}
	}

	var resp embeddingResponse
	err := e.http.postJSON(ctx, "/embeddings", embeddingRequest{
		Model:      e.model,
		Input:      []string{text},
		Dimensions: e.dimensions,
	}, &resp)
	if err != nil {
		return Embedding{}, err
	}

	tokens := resp.Usage.PromptTokens
	if tokens == 0 {
		tokens = resp.Usage.TotalTokens
	}
	billed := Embedding{Tokens: tokens, Billed: true}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return billed, fmt.Errorf("embedding: %w", ErrEmptyResponse)
	}
	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return billed, fmt.Errorf("embedding: got %d dimensions, want %d", len(vec), e.dimensions)
	}

	if e.cache != nil {
		e.cache.Set(text, vec)
	}

	e.log.WithContext(ctx).Debug("Embedded query", "dimensions", len(vec), "tokens", tokens)

	billed.Vector = vec
	return billed, nil
}
