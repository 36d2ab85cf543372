// Package ml provides clients for the hosted model services: embeddings,
// chat completion and reranking.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxResponseSize bounds provider response bodies.
const MaxResponseSize = 10 * 1024 * 1024

var (
	// ErrNotConfigured is returned when a provider has no API key.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrEmptyResponse is returned when a provider answers without data.
	ErrEmptyResponse = errors.New("provider returned no results")
)

// ProviderError is a non-2xx answer from a model service. It is logged,
// never returned to API callers.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

// apiErrorResponse covers both the OpenAI ({"error":{...}}) and Cohere
// ({"message": ...}) error shapes.
type apiErrorResponse struct {
	Error *struct {
		Code    any    `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// httpProvider is the JSON-over-HTTP transport shared by all clients.
type httpProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newHTTPProvider(name, baseURL, apiKey string, timeout time.Duration) httpProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return httpProvider{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p httpProvider) configured() bool {
	return p.apiKey != "" && p.baseURL != ""
}

// postJSON sends body to path and decodes a 2xx answer into out.
func (p httpProvider) postJSON(ctx context.Context, path string, body, out any) error {
	if !p.configured() {
		return fmt.Errorf("%s: %w", p.name, ErrNotConfigured)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", p.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.parseError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return nil
}

func (p httpProvider) parseError(status int, data []byte) error {
	perr := &ProviderError{Provider: p.name, Status: status}

	var body apiErrorResponse
	if err := json.Unmarshal(data, &body); err == nil {
		switch {
		case body.Error != nil:
			perr.Message = body.Error.Message
			if body.Error.Code != nil {
				perr.Code = fmt.Sprint(body.Error.Code)
			} else {
				perr.Code = body.Error.Type
			}
		case body.Message != "":
			perr.Message = body.Message
		}
	}
	if perr.Message == "" {
		perr.Message = strings.TrimSpace(string(data))
		if len(perr.Message) > 200 {
			perr.Message = perr.Message[:200]
		}
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(status)
	}

	return perr
}
