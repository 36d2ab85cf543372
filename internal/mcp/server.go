// Package mcp exposes the research assistant as Model Context Protocol tools
// over stdio or streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finresearch/research-assistant/internal/cost"
	"github.com/finresearch/research-assistant/internal/documents"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/rag"
)

// ErrMissingQueryService is returned when no query service is provided.
var ErrMissingQueryService = errors.New("mcp: query service is required")

// QueryService answers questions and reports spend.
type QueryService interface {
	SubmitQuery(ctx context.Context, req rag.Request) (*rag.Answer, error)
	CostSummary(ctx context.Context) (cost.Summary, error)
}

// DocumentLister lists the source documents.
type DocumentLister interface {
	List(ctx context.Context) ([]documents.Info, error)
}

// AskRoute is the rate limit route of the ask_research_question tool.
const AskRoute = "mcp:ask_research_question"

// clientKey is the limiter key for tool calls. MCP sessions carry no
// client address, so every MCP caller shares one bucket.
const clientKey = "mcp"

// Limiter admits or rejects one call on a route.
type Limiter interface {
	Allow(route, client string) (bool, time.Duration)
}

// Server is the MCP server.
type Server struct {
	queries   QueryService
	documents DocumentLister
	limiter   Limiter
	server    *mcp.Server
	log       *logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter rate limits the ask_research_question tool under AskRoute.
func WithLimiter(l Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// NewServer creates an MCP server. docs may be nil, in which case the
// list_documents tool is not registered.
func NewServer(queries QueryService, docs DocumentLister, version string, log *logger.Logger, opts ...Option) (*Server, error) {
	if queries == nil {
		return nil, ErrMissingQueryService
	}
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		queries:   queries,
		documents: docs,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "research-assistant",
			Version: version,
		}, nil),
		log: log.WithComponent("mcp"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()

	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves MCP over streamable HTTP, for mounting on the API server.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}
