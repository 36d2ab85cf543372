package ml

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/hash"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

func TestEmbedder_EmbedAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-large", req.Model)
		assert.Equal(t, []string{"apple revenue"}, req.Input)

		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}],"usage":{"prompt_tokens":3,"total_tokens":3}}`))
	}))
	defer srv.Close()

	e := NewEmbedder(config.EmbeddingConfig{
		BaseURL:    srv.URL + "/",
		APIKey:     "sk-test",
		Model:      "text-embedding-3-large",
		Dimensions: 3,
	}, NewEmbeddingCache(10), logger.Discard())

	got, err := e.Embed(context.Background(), "apple revenue")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Vector)
	assert.Equal(t, 3, got.Tokens)
	assert.False(t, got.Cached)
	assert.True(t, got.Billed)

	again, err := e.Embed(context.Background(), "apple revenue")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.False(t, again.Billed)
	assert.Zero(t, again.Tokens)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1]}],"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	}))
	defer srv.Close()

	cache := NewEmbeddingCache(10)
	e := NewEmbedder(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Dimensions: 3}, cache, logger.Discard())
	got, err := e.Embed(context.Background(), "q")
	assert.Error(t, err)

	// The provider charged for the call even though the vector is unusable.
	assert.True(t, got.Billed)
	assert.Equal(t, 4, got.Tokens)
	assert.Nil(t, got.Vector)
	assert.Zero(t, cache.Size())
}

func TestEmbedder_TransportErrorNotBilled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewEmbedder(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Dimensions: 3}, nil, logger.Discard())
	got, err := e.Embed(context.Background(), "q")
	assert.Error(t, err)
	assert.False(t, got.Billed)
}

func TestEmbedder_NotConfigured(t *testing.T) {
	e := NewEmbedder(config.EmbeddingConfig{BaseURL: "http://unused"}, nil, logger.Discard())
	assert.False(t, e.Configured())

	_, err := e.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestProvider_ErrorShapes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"openai", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, "rate_limit_exceeded", "Rate limit reached"},
		{"openai without code", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error","code":null}}`, "invalid_request_error", "bad key"},
		{"cohere", http.StatusBadRequest, `{"message":"invalid model"}`, "", "invalid model"},
		{"plain text", http.StatusBadGateway, `upstream down`, "", "upstream down"},
		{"empty", http.StatusServiceUnavailable, ``, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewGenerator(config.LLMConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, logger.Discard())
			_, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

			var perr *ProviderError
			require.True(t, errors.As(err, &perr), "error %v is not a ProviderError", err)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.wantCode, perr.Code)
			assert.Equal(t, tt.wantMsg, perr.Message)
		})
	}
}

func TestGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)
		assert.Equal(t, 1000, req.MaxTokens)

		_, _ = w.Write([]byte(`{"model":"gpt-4-turbo","choices":[{"message":{"role":"assistant","content":"  Revenue was $383B [Source 1].  "},"finish_reason":"stop"}],"usage":{"prompt_tokens":812,"completion_tokens":40}}`))
	}))
	defer srv.Close()

	g := NewGenerator(config.LLMConfig{BaseURL: srv.URL, APIKey: "k", Model: "gpt-4-turbo", MaxTokens: 1000}, logger.Discard())
	c, err := g.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "question"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue was $383B [Source 1].", c.Text)
	assert.Equal(t, 812, c.InputTokens)
	assert.Equal(t, 40, c.OutputTokens)
	assert.Equal(t, "stop", c.FinishReason)
}

func TestGenerator_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	g := NewGenerator(config.LLMConfig{BaseURL: srv.URL, APIKey: "k"}, logger.Discard())
	_, err := g.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGenerator_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g := NewGenerator(config.LLMConfig{BaseURL: srv.URL, APIKey: "k"}, logger.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, []Message{{Role: RoleUser, Content: "q"}})
	assert.Error(t, err)
}

func TestReranker_Rerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "net income", req.Query)
		assert.Equal(t, 3, req.TopN)

		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.91},{"index":0,"relevance_score":0.40}]}`))
	}))
	defer srv.Close()

	r := NewReranker(config.RerankConfig{BaseURL: srv.URL, APIKey: "k", Model: "rerank-english-v3.0"}, logger.Discard())
	got, err := r.Rerank(context.Background(), "net income", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []RankedResult{{Index: 2, Score: 0.91}, {Index: 0, Score: 0.40}}, got)
}

func TestReranker_RejectsBadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.9}]}`))
	}))
	defer srv.Close()

	r := NewReranker(config.RerankConfig{BaseURL: srv.URL, APIKey: "k"}, logger.Discard())
	_, err := r.Rerank(context.Background(), "q", []string{"a"})
	assert.Error(t, err)
}

func TestEncodeKeywords(t *testing.T) {
	sv := EncodeKeywords([]string{"revenue", "apple", "", "revenue"})

	require.Len(t, sv.Indices, 2)
	require.Len(t, sv.Values, 2)
	assert.Less(t, sv.Indices[0], sv.Indices[1])

	weights := map[uint32]float32{}
	for i, idx := range sv.Indices {
		weights[idx] = sv.Values[i]
	}
	assert.Equal(t, float32(2), weights[hash.TermIndex("revenue")])
	assert.Equal(t, float32(1), weights[hash.TermIndex("apple")])

	assert.Empty(t, EncodeKeywords(nil).Indices)
}

func TestService_Health(t *testing.T) {
	cfg := config.Default()
	svc := NewService(cfg, logger.Discard())

	h := svc.Health()
	assert.False(t, h.Healthy)
	assert.False(t, h.Configured["embedding"])
	require.NotNil(t, h.Cache)

	cfg.Embedding.APIKey = "k"
	cfg.LLM.APIKey = "k"
	cfg.Rerank.Enabled = false
	svc = NewService(cfg, logger.Discard())

	h = svc.Health()
	assert.True(t, h.Healthy)
	assert.Nil(t, svc.Reranker)
	assert.False(t, h.Configured["rerank"])
}
