package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finresearch/research-assistant/internal/cost"
	"github.com/finresearch/research-assistant/internal/documents"
	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/pkg/middleware"
	"github.com/finresearch/research-assistant/internal/rag"
)

type mockQueryService struct {
	lastRequest rag.Request
	answer      *rag.Answer
	summary     cost.Summary
	err         error
}

func (m *mockQueryService) SubmitQuery(_ context.Context, req rag.Request) (*rag.Answer, error) {
	m.lastRequest = req
	return m.answer, m.err
}

func (m *mockQueryService) CostSummary(context.Context) (cost.Summary, error) {
	return m.summary, m.err
}

type mockLister struct {
	docs []documents.Info
	err  error
}

func (m mockLister) List(context.Context) ([]documents.Info, error) {
	return m.docs, m.err
}

func TestNewServer_RequiresQueryService(t *testing.T) {
	_, err := NewServer(nil, nil, "test", logger.Discard())
	assert.ErrorIs(t, err, ErrMissingQueryService)
}

func TestServer_handleAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("passes options through", func(t *testing.T) {
		svc := &mockQueryService{answer: &rag.Answer{
			Answer: "Revenue was $383.3B [Source 1].",
			Query:  "What was Apple's revenue?",
			Sources: []rag.Source{{
				DocumentName: "apple-10k-2023.pdf",
				PageNumber:   12,
				Score:        0.91,
				SearchMethod: "hybrid",
			}},
		}}
		server, err := NewServer(svc, nil, "test", logger.Discard())
		require.NoError(t, err)

		topK, rerank := 3, true
		_, out, err := server.handleAsk(ctx, nil, AskInput{Question: "What was Apple's revenue?", TopK: &topK, UseReranking: &rerank})
		require.NoError(t, err)

		assert.Equal(t, "What was Apple's revenue?", svc.lastRequest.Query)
		require.NotNil(t, svc.lastRequest.TopK)
		assert.Equal(t, 3, *svc.lastRequest.TopK)
		assert.True(t, *svc.lastRequest.UseReranking)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, "apple-10k-2023.pdf", out.Sources[0].DocumentName)
	})

	t.Run("hides the wrapped cause", func(t *testing.T) {
		svc := &mockQueryService{err: apperrors.GenerationError(errors.New("upstream said sk-secret"))}
		server, err := NewServer(svc, nil, "test", logger.Discard())
		require.NoError(t, err)

		_, _, err = server.handleAsk(ctx, nil, AskInput{Question: "What was revenue?"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GENERATION_ERROR")
		assert.NotContains(t, err.Error(), "sk-secret")
	})

	t.Run("non app errors are generic", func(t *testing.T) {
		svc := &mockQueryService{err: errors.New("boom")}
		server, err := NewServer(svc, nil, "test", logger.Discard())
		require.NoError(t, err)

		_, _, err = server.handleAsk(ctx, nil, AskInput{Question: "What was revenue?"})
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "boom")
	})
}

func TestServer_handleAsk_RateLimited(t *testing.T) {
	ctx := context.Background()
	svc := &mockQueryService{answer: &rag.Answer{Answer: "ok", Query: "q"}}
	limiter := middleware.NewRouteRateLimiter(map[string]middleware.RouteLimit{
		AskRoute: {PerMinute: 10, Burst: 2},
	}, 0)

	var rejected []string
	limiter.OnReject(func(route string) { rejected = append(rejected, route) })

	server, err := NewServer(svc, nil, "test", logger.Discard(), WithLimiter(limiter))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err := server.handleAsk(ctx, nil, AskInput{Question: "What was revenue?"})
		require.NoError(t, err, "call %d", i+1)
	}

	svc.lastRequest = rag.Request{}
	_, _, err = server.handleAsk(ctx, nil, AskInput{Question: "What was revenue?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMITED")
	assert.Empty(t, svc.lastRequest.Query, "query service called past the limit")
	assert.Equal(t, []string{AskRoute}, rejected)
}

func TestServer_handleCostSummary(t *testing.T) {
	svc := &mockQueryService{summary: cost.Summary{Date: "2026-10-15", DailyTotal: 1.5, DailyLimit: 20, RemainingBudget: 18.5}}
	server, err := NewServer(svc, nil, "test", logger.Discard())
	require.NoError(t, err)

	_, out, err := server.handleCostSummary(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, svc.summary, out)
}

func TestServer_handleListDocuments(t *testing.T) {
	size := int64(1024)
	lister := mockLister{docs: []documents.Info{{Name: "a.pdf", Status: documents.StatusAvailable, FileSize: &size}}}
	server, err := NewServer(&mockQueryService{}, lister, "test", logger.Discard())
	require.NoError(t, err)

	_, out, err := server.handleListDocuments(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "a.pdf", out.Documents[0].Name)

	server, err = NewServer(&mockQueryService{}, mockLister{err: errors.New("disk gone")}, "test", logger.Discard())
	require.NoError(t, err)
	_, _, err = server.handleListDocuments(context.Background(), nil, EmptyInput{})
	assert.Error(t, err)
}

func TestServer_HTTPHandler(t *testing.T) {
	server, err := NewServer(&mockQueryService{}, nil, "test", logger.Discard())
	require.NoError(t, err)
	assert.NotNil(t, server.HTTPHandler())
}
