// Package cost tracks spend on external calls against a daily budget.
package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/finresearch/research-assistant/internal/config"
)

// Category is the kind of external call being priced.
type Category string

// External call categories.
const (
	CategoryEmbedding   Category = "embedding"
	CategoryGeneration  Category = "generation"
	CategoryVectorQuery Category = "vector_query"
	CategoryRerank      Category = "rerank"
)

// Usage describes one external call. Units are tokens for embedding and
// generation input, results for vector queries and searches for rerank.
// OutputUnits is only used for generation.
type Usage struct {
	Category    Category
	Units       int
	OutputUnits int
}

// Event is an append-only record of a priced call.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Day         string    `json:"day"`
	Category    Category  `json:"category"`
	Units       int       `json:"units"`
	OutputUnits int       `json:"output_units,omitempty"`
	CostUSD     float64   `json:"cost_usd"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Summary is the budget position for the current day.
type Summary struct {
	Date            string  `json:"date"`
	DailyTotal      float64 `json:"daily_total"`
	DailyLimit      float64 `json:"daily_limit"`
	LimitExceeded   bool    `json:"limit_exceeded"`
	RemainingBudget float64 `json:"remaining_budget"`
}

// Store persists daily totals. Add must be atomic across concurrent callers.
type Store interface {
	// Add appends the event and adds its cost to the event's day, returning the new day total.
	Add(ctx context.Context, ev Event) (float64, error)

	// Total returns the running total for a day, zero if the day has no events.
	Total(ctx context.Context, day string) (float64, error)

	// Close releases resources.
	Close() error
}

// Pricing is the per-unit USD price table.
type Pricing struct {
	EmbeddingPer1K        float64
	GenerationInputPer1K  float64
	GenerationOutputPer1K float64
	VectorQueryPerResult  float64
	RerankPerSearch       float64
}

// PricingFromConfig converts the configured price table.
func PricingFromConfig(cfg config.PricingConfig) Pricing {
	return Pricing{
		EmbeddingPer1K:        cfg.EmbeddingPer1K,
		GenerationInputPer1K:  cfg.GenerationInputPer1K,
		GenerationOutputPer1K: cfg.GenerationOutputPer1K,
		VectorQueryPerResult:  cfg.VectorQueryPerResult,
		RerankPerSearch:       cfg.RerankPerSearch,
	}
}

// DefaultPricing returns list prices for text-embedding-3-large, gpt-4-turbo,
// a hosted vector index and Cohere rerank.
func DefaultPricing() Pricing {
	return PricingFromConfig(config.Default().Cost.Pricing)
}

// Price computes the USD cost of a call.
func (p Pricing) Price(u Usage) (float64, error) {
	if u.Units < 0 || u.OutputUnits < 0 {
		return 0, fmt.Errorf("negative units for %s", u.Category)
	}

	switch u.Category {
	case CategoryEmbedding:
		return float64(u.Units) / 1000 * p.EmbeddingPer1K, nil
	case CategoryGeneration:
		return float64(u.Units)/1000*p.GenerationInputPer1K +
			float64(u.OutputUnits)/1000*p.GenerationOutputPer1K, nil
	case CategoryVectorQuery:
		return float64(u.Units) * p.VectorQueryPerResult, nil
	case CategoryRerank:
		return float64(u.Units) * p.RerankPerSearch, nil
	default:
		return 0, fmt.Errorf("unknown cost category %q", u.Category)
	}
}

// DayKey returns the bucket for t: the UTC date of t shifted back by the
// reset hour, so a bucket runs from resetHour:00 UTC to the next resetHour:00.
func DayKey(t time.Time, resetHour int) string {
	return t.UTC().Add(-time.Duration(resetHour) * time.Hour).Format("2006-01-02")
}
