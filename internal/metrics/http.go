package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPMiddleware wraps an HTTP handler to collect metrics.
// It records request count and duration, and tracks in-flight requests.
//
// Usage:
//
//	handler := metrics.HTTPMiddleware(m, mux)
func HTTPMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTP(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code and calls the underlying WriteHeader.
func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write ensures status code is set before writing.
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(w.statusCode)
	}
	return w.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer when it can flush.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.written = true
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// normalizePath maps request paths onto a fixed label set so arbitrary
// paths cannot blow up cardinality.
//
// Examples:
//   - /api/v1/documents/10-K.pdf -> /api/v1/documents/{name}
//   - /wp-admin -> other
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/health/ready", "/metrics",
		"/api/v1/query", "/api/v1/costs", "/api/v1/estimate", "/api/v1/documents",
		"/api/v1/activity":
		return path
	}

	if strings.HasPrefix(path, "/api/v1/documents/") {
		return "/api/v1/documents/{name}"
	}
	if strings.HasPrefix(path, "/mcp") {
		return "/mcp"
	}

	return "other"
}

// statusCode converts HTTP status code to string for metric label.
// Groups uncommon codes into categories.
func statusCode(code int) string {
	switch code {
	case 200, 204, 400, 404, 405, 413, 429, 500, 502, 503, 504:
		return strconv.Itoa(code)
	}

	switch {
	case code >= 100 && code < 600:
		return strconv.Itoa(code/100) + "xx"
	default:
		return strconv.Itoa(code)
	}
}
