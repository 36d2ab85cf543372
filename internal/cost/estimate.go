package cost

import (
	"strings"
	"unicode/utf8"
)

// Assumptions used when estimating a query before it runs.
const (
	tokensPerWord        = 1.3
	charsPerToken        = 4
	contextCharsPerChunk = 500
	expectedOutputTokens = 500
)

// Estimate is a pre-flight cost projection for one query.
type Estimate struct {
	EstimatedCostUSD float64         `json:"estimated_cost_usd"`
	EmbeddingCost    float64         `json:"embedding_cost"`
	GenerationCost   float64         `json:"llm_cost"`
	VectorQueryCost  float64         `json:"vector_query_cost"`
	RerankCost       float64         `json:"rerank_cost"`
	EstimatedTokens  EstimatedTokens `json:"estimated_tokens"`
}

// EstimatedTokens breaks down the token projection.
type EstimatedTokens struct {
	Embedding        int `json:"embedding"`
	GenerationInput  int `json:"llm_input"`
	GenerationOutput int `json:"llm_output"`
}

// EstimateQuery projects the cost of answering text with topK sources.
// Nothing is recorded.
func (p Pricing) EstimateQuery(text string, topK int, rerank bool) Estimate {
	words := len(strings.Fields(text))
	embedTokens := int(float64(words) * tokensPerWord)
	inputTokens := (utf8.RuneCountInString(text) + topK*contextCharsPerChunk) / charsPerToken

	embedding, _ := p.Price(Usage{Category: CategoryEmbedding, Units: embedTokens})
	generation, _ := p.Price(Usage{Category: CategoryGeneration, Units: inputTokens, OutputUnits: expectedOutputTokens})
	vector, _ := p.Price(Usage{Category: CategoryVectorQuery, Units: topK})

	var rr float64
	if rerank {
		rr, _ = p.Price(Usage{Category: CategoryRerank, Units: 1})
	}

	return Estimate{
		EstimatedCostUSD: embedding + generation + vector + rr,
		EmbeddingCost:    embedding,
		GenerationCost:   generation,
		VectorQueryCost:  vector,
		RerankCost:       rr,
		EstimatedTokens: EstimatedTokens{
			Embedding:        embedTokens,
			GenerationInput:  inputTokens,
			GenerationOutput: expectedOutputTokens,
		},
	}
}

// EstimateTokens approximates the token count of text for providers that do
// not report usage.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(1, n/charsPerToken)
}

// EstimateEmbeddingTokens approximates the embedding token count of text.
func EstimateEmbeddingTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return max(1, int(float64(words)*tokensPerWord))
}
