package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	})

	wrapped := HTTPMiddleware(m, handler)

	req := httptest.NewRequest("POST", "/api/v1/query", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec.Code)
	}

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/v1/query", "429"))
	if got != 1 {
		t.Errorf("expected 1 recorded request, got %f", got)
	}

	if v := testutil.ToFloat64(m.HTTPRequestsInFlight); v != 0 {
		t.Errorf("expected in-flight requests to be 0, got %f", v)
	}
}

func TestHTTPMiddleware_Flushes(t *testing.T) {
	m := New()

	var flushable bool
	wrapped := HTTPMiddleware(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var f http.Flusher
		f, flushable = w.(http.Flusher)
		w.Write([]byte("event: message\n\n"))
		if flushable {
			f.Flush()
		}
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("POST", "/mcp", nil))

	if !flushable {
		t.Fatal("wrapped writer does not implement http.Flusher")
	}
	if !rec.Flushed {
		t.Error("flush did not reach the underlying writer")
	}
}

func TestHTTPMiddleware_ImplicitStatus(t *testing.T) {
	m := New()

	wrapped := HTTPMiddleware(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("expected 1 recorded request, got %f", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"root", "/", "/"},
		{"health", "/health", "/health"},
		{"readiness", "/health/ready", "/health/ready"},
		{"query", "/api/v1/query", "/api/v1/query"},
		{"costs", "/api/v1/costs", "/api/v1/costs"},
		{"document list", "/api/v1/documents", "/api/v1/documents"},
		{"document download", "/api/v1/documents/apple-10k-2023.pdf", "/api/v1/documents/{name}"},
		{"mcp", "/mcp/session", "/mcp"},
		{"unknown", "/wp-admin/login.php", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.input); got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{200, "200"},
		{201, "2xx"},
		{301, "3xx"},
		{429, "429"},
		{418, "4xx"},
		{502, "502"},
		{599, "5xx"},
		{999, "999"},
	}

	for _, tt := range tests {
		if got := statusCode(tt.code); got != tt.expected {
			t.Errorf("statusCode(%d) = %q, want %q", tt.code, got, tt.expected)
		}
	}
}
