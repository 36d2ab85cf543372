package security

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Query and result bounds.
const (
	MinQueryLength = 3
	MaxQueryLength = 2000

	MinTopK     = 1
	MaxTopK     = 20
	DefaultTopK = 5
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      interface{}
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// RerankMode selects whether the reranking stage runs for a query.
type RerankMode int

const (
	RerankDisabled RerankMode = iota
	RerankEnabled
)

// String returns the mode name.
func (m RerankMode) String() string {
	if m == RerankEnabled {
		return "enabled"
	}
	return "disabled"
}

// Query is a validated, normalized question ready for the pipeline.
type Query struct {
	Text   string
	TopK   int
	Rerank RerankMode
}

// QueryLimits bounds an incoming query.
type QueryLimits struct {
	MinLength   int
	MaxLength   int
	MinTopK     int
	MaxTopK     int
	DefaultTopK int
}

// DefaultQueryLimits returns the standard bounds.
func DefaultQueryLimits() QueryLimits {
	return QueryLimits{
		MinLength:   MinQueryLength,
		MaxLength:   MaxQueryLength,
		MinTopK:     MinTopK,
		MaxTopK:     MaxTopK,
		DefaultTopK: DefaultTopK,
	}
}

// ValidateQueryRequest validates a raw request with the default limits.
func ValidateQueryRequest(text string, topK *int, rerank *bool) (Query, error) {
	return DefaultQueryLimits().Validate(text, topK, rerank)
}

// Validate normalizes text and checks every bound. It has no side effects.
// Lengths are measured in runes after sanitization and trimming.
func (l QueryLimits) Validate(text string, topK *int, rerank *bool) (Query, error) {
	if !utf8.ValidString(text) {
		return Query{}, &ValidationError{
			Field:      "query",
			Constraint: "must be valid UTF-8",
		}
	}

	if strings.TrimSpace(text) == "" {
		return Query{}, &ValidationError{
			Field:      "query",
			Constraint: "required",
		}
	}

	clean := SanitizeQuery(text)
	length := utf8.RuneCountInString(clean)

	if length < l.MinLength {
		return Query{}, &ValidationError{
			Field:      "query",
			Value:      length,
			Constraint: fmt.Sprintf("minimum length is %d characters", l.MinLength),
		}
	}

	if length > l.MaxLength {
		return Query{}, &ValidationError{
			Field:      "query",
			Value:      length,
			Constraint: fmt.Sprintf("maximum length is %d characters", l.MaxLength),
		}
	}

	q := Query{Text: clean, TopK: l.DefaultTopK}

	if topK != nil {
		if err := l.validateTopK(*topK); err != nil {
			return Query{}, err
		}
		q.TopK = *topK
	}

	if rerank != nil && *rerank {
		q.Rerank = RerankEnabled
	}

	return q, nil
}

func (l QueryLimits) validateTopK(topK int) error {
	if topK < l.MinTopK {
		return &ValidationError{
			Field:      "top_k",
			Value:      topK,
			Constraint: fmt.Sprintf("minimum value is %d", l.MinTopK),
		}
	}

	if topK > l.MaxTopK {
		return &ValidationError{
			Field:      "top_k",
			Value:      topK,
			Constraint: fmt.Sprintf("maximum value is %d", l.MaxTopK),
		}
	}

	return nil
}
