package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"

	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/rag"
)

// queryRequestSchema checks the shape of a query body. Value bounds are
// enforced by the input validator so callers get the same messages from
// every surface.
const queryRequestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string"},
		"top_k": {"type": ["integer", "null"]},
		"use_reranking": {"type": ["boolean", "null"]}
	}
}`

var queryRequestValidator = mustCompile(queryRequestSchema)

func mustCompile(schema string) *jsonschema.Schema {
	compiled, err := jsonschema.NewCompiler().Compile([]byte(schema))
	if err != nil {
		panic("server: invalid request schema: " + err.Error())
	}
	return compiled
}

// decodeQueryRequest reads and validates a query body.
func decodeQueryRequest(r *http.Request) (rag.Request, error) {
	var req rag.Request

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, apperrors.ValidationError("body: too large", err)
		}
		return req, apperrors.ValidationError("body: unreadable", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, apperrors.ValidationError("body: required", nil)
	}
	if !json.Valid(data) {
		return req, apperrors.ValidationError("body: must be valid JSON", nil)
	}

	if result := queryRequestValidator.ValidateJSON(data); !result.IsValid() {
		fields := make([]string, 0, len(result.Errors))
		for field := range result.Errors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		return req, apperrors.ValidationError(
			"body: must be an object with a string query, an integer top_k and a boolean use_reranking", nil).
			WithDetail("schema", strings.Join(fields, ","))
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return req, apperrors.ValidationError("body: must be valid JSON", err)
	}
	return req, nil
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent.
	_ = json.NewEncoder(w).Encode(v)
}
