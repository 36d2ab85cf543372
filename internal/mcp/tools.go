package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finresearch/research-assistant/internal/cost"
	"github.com/finresearch/research-assistant/internal/documents"
	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/middleware"
	"github.com/finresearch/research-assistant/internal/rag"
)

// AskInput is the input of the ask_research_question tool.
type AskInput struct {
	Question     string `json:"question" jsonschema:"the question about the financial documents"`
	TopK         *int   `json:"top_k,omitempty" jsonschema:"number of sources to cite, 1 to 20 (default 5)"`
	UseReranking *bool  `json:"use_reranking,omitempty" jsonschema:"re-score sources with the rerank model"`
}

// DocumentsOutput is the output of the list_documents tool.
type DocumentsOutput struct {
	Documents []documents.Info `json:"documents"`
	Count     int              `json:"count"`
}

// EmptyInput is the input of tools that take no arguments.
type EmptyInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_research_question",
		Description: "Answer a question from the indexed financial filings, citing document and page for every source.",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_cost_summary",
		Description: "Report today's spend on model and index calls against the daily budget.",
	}, s.handleCostSummary)

	if s.documents != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "list_documents",
			Description: "List the financial documents available for questions.",
		}, s.handleListDocuments)
	}
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, rag.Answer, error) {
	if s.limiter != nil {
		if ok, retryAfter := s.limiter.Allow(AskRoute, clientKey); !ok {
			err := apperrors.RateLimitedError(middleware.RetryAfterSeconds(retryAfter))
			return nil, rag.Answer{}, s.toolError(ctx, "ask_research_question", err)
		}
	}

	answer, err := s.queries.SubmitQuery(ctx, rag.Request{
		Query:        input.Question,
		TopK:         input.TopK,
		UseReranking: input.UseReranking,
	})
	if err != nil {
		return nil, rag.Answer{}, s.toolError(ctx, "ask_research_question", err)
	}
	return nil, *answer, nil
}

func (s *Server) handleCostSummary(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, cost.Summary, error) {
	summary, err := s.queries.CostSummary(ctx)
	if err != nil {
		return nil, cost.Summary{}, s.toolError(ctx, "get_cost_summary", err)
	}
	return nil, summary, nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, DocumentsOutput, error) {
	docs, err := s.documents.List(ctx)
	if err != nil {
		return nil, DocumentsOutput{}, s.toolError(ctx, "list_documents", err)
	}
	return nil, DocumentsOutput{Documents: docs, Count: len(docs)}, nil
}

// toolError logs the full cause and returns only the code and public message.
func (s *Server) toolError(ctx context.Context, tool string, err error) error {
	s.log.WithContext(ctx).WithError(err).Warn("Tool call failed", "tool", tool)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return fmt.Errorf("%s: %s", appErr.Code, appErr.Message)
	}
	return fmt.Errorf("%s: an unexpected error occurred", apperrors.CodeInternal)
}
