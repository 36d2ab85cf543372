// Package client provides an HTTP client for the research assistant API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/finresearch/research-assistant/internal/cost"
	"github.com/finresearch/research-assistant/internal/documents"
	"github.com/finresearch/research-assistant/internal/observability"
	"github.com/finresearch/research-assistant/internal/rag"
)

// Client is an HTTP client for the research assistant API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// Timeout is the request timeout. Answers can take a while: embedding,
	// retrieval, reranking and generation all run per question.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8000",
		Timeout:         120 * time.Second,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		MaxIdleConns:      cfg.MaxIdleConns,
		IdleConnTimeout:   cfg.IdleConnTimeout,
		ForceAttemptHTTP2: true,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// QueryRequest is a question for the assistant.
type QueryRequest struct {
	Query        string `json:"query"`
	TopK         *int   `json:"top_k,omitempty"`
	UseReranking *bool  `json:"use_reranking,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	Uptime     string `json:"uptime,omitempty"`
	Components map[string]struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"components,omitempty"`
}

// APIError represents an API error response.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RetryAfter returns the server's retry hint for rate limited requests.
func (e *APIError) RetryAfter() time.Duration {
	secs, err := strconv.Atoi(e.Details["retry_after"])
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Health checks if the API is healthy.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ask submits a question and returns the cited answer.
func (c *Client) Ask(ctx context.Context, req QueryRequest) (*rag.Answer, error) {
	var answer rag.Answer
	if err := c.post(ctx, "/api/v1/query", req, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// Costs returns today's spend against the budget.
func (c *Client) Costs(ctx context.Context) (*cost.Summary, error) {
	var summary cost.Summary
	if err := c.get(ctx, "/api/v1/costs", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Estimate projects the cost of a question without running it.
func (c *Client) Estimate(ctx context.Context, req QueryRequest) (*cost.Estimate, error) {
	var estimate cost.Estimate
	if err := c.post(ctx, "/api/v1/estimate", req, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

// Documents lists the source documents.
func (c *Client) Documents(ctx context.Context) ([]documents.Info, error) {
	var docs []documents.Info
	if err := c.get(ctx, "/api/v1/documents", &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Activity is the recent query log with its aggregate.
type Activity struct {
	Summary observability.Summary `json:"summary"`
	Entries []observability.Entry `json:"entries"`
}

// Activity returns up to limit recent query outcomes, newest first.
func (c *Client) Activity(ctx context.Context, limit int) (*Activity, error) {
	path := "/api/v1/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var activity Activity
	if err := c.get(ctx, path, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// Download streams a source document into w and returns the bytes written.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	path := "/api/v1/documents/" + url.PathEscape(name) + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return 0, parseError(resp.StatusCode, body)
	}

	return io.Copy(w, resp.Body)
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// do executes a request.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

func parseError(status int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
		return fmt.Errorf("HTTP %d: %s", status, bytes.TrimSpace(body))
	}
	apiErr.Status = status
	return &apiErr
}
