package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--server", serverURL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestAskText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"answer":"Revenue was $383.3B [Source 1].","query":"q","sources":[{"document_name":"apple-10k-2023.pdf","page_number":28,"text":"...","score":0.8,"search_method":"keyword","matched_keywords":["revenue","apple"]}]}`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "ask", "--top-k", "3", "What was Apple's revenue?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["top_k"] != 3.0 {
		t.Errorf("top_k = %v, want 3", got["top_k"])
	}
	if _, ok := got["use_reranking"]; ok {
		t.Error("use_reranking sent although the flag was not set")
	}
	for _, want := range []string{"Revenue was $383.3B", "[1] apple-10k-2023.pdf p.28", "keywords: revenue, apple"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"date":"2026-10-15","daily_total":1.5,"daily_limit":20,"limit_exceeded":false,"remaining_budget":18.5}`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "--format", "json", "costs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var summary map[string]any
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if summary["remaining_budget"] != 18.5 {
		t.Errorf("remaining_budget = %v", summary["remaining_budget"])
	}
}

func TestUnknownFormat(t *testing.T) {
	_, err := run(t, "http://127.0.0.1:1", "--format", "xml", "costs")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got %v", err)
	}
}

func TestDocumentsTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"a.pdf","status":"available","file_size":1024},{"name":"b.pdf","status":"missing"}]`))
	}))
	defer srv.Close()

	out, err := run(t, srv.URL, "documents")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "1024") || !strings.Contains(lines[2], "missing") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestDocumentsDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/documents/a.pdf/download" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"NOT_FOUND","message":"document not found"}`))
			return
		}
		w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	out, err := run(t, srv.URL, "documents", "download", "-o", dir, "a.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "8 bytes") {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "a.pdf"))
	if err != nil || string(data) != "%PDF-1.7" {
		t.Errorf("file = %q, err %v", data, err)
	}

	if _, err := run(t, srv.URL, "documents", "download", "-o", dir, "b.pdf"); err == nil {
		t.Error("expected error for missing document")
	}
	if _, err := os.Stat(filepath.Join(dir, "b.pdf")); !os.IsNotExist(err) {
		t.Error("partial file left behind after failed download")
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"daily cost limit reached","code":"BUDGET_EXCEEDED","message":"daily cost limit reached"}`))
	}))
	defer srv.Close()

	_, err := run(t, srv.URL, "ask", "What was revenue?")
	if err == nil || !strings.Contains(err.Error(), "BUDGET_EXCEEDED") {
		t.Errorf("expected BUDGET_EXCEEDED error, got %v", err)
	}
}
