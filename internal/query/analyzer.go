package query

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

var (
	// comparisonCueRe matches wording that asks for a comparison.
	comparisonCueRe = regexp.MustCompile(`(?i)\b(compare[sd]?|comparing|comparison|versus|vs\.?|differ(?:s|ence|ences)?|between|relative to|against|contrast|outperform(?:ed|s)?|better|worse|higher|lower)\b`)

	// sentenceSplitRe separates sentences and explicit question breaks.
	sentenceSplitRe = regexp.MustCompile(`[?;\n]+`)

	// clauseJoinRe finds a conjunction that introduces a new question
	// inside one sentence; group 1 is the question word that starts it.
	clauseJoinRe = regexp.MustCompile(`(?i)(?:,\s*|\s+)(?:and\s+(?:also\s+)?|also\s+|then\s+|plus\s+)(what|how|why|when|where|which|who|whose|is|are|was|were|does|do|did|can|could|should|will|has|have)\b`)
)

// nonEntities are capitalised words that begin sentences or name financial
// concepts rather than companies.
var nonEntities = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true, "which": true,
	"who": true, "whose": true, "is": true, "are": true, "was": true, "were": true,
	"do": true, "does": true, "did": true, "can": true, "could": true, "should": true,
	"will": true, "would": true, "has": true, "have": true, "the": true, "a": true,
	"an": true, "and": true, "or": true, "in": true, "of": true, "for": true,
	"on": true, "to": true, "please": true, "tell": true, "show": true, "give": true,
	"list": true, "explain": true, "describe": true, "summarize": true, "compare": true,
	"comparing": true, "between": true, "versus": true, "vs": true, "i": true,
	"also": true, "then": true, "plus": true, "it": true, "its": true, "their": true,
	"q1": true, "q2": true, "q3": true, "q4": true, "fy": true, "h1": true, "h2": true,
	"ceo": true, "cfo": true, "coo": true, "eps": true, "usd": true, "gaap": true,
	"ebitda": true, "ebit": true, "roe": true, "roi": true, "roa": true, "esg": true,
	"yoy": true, "qoq": true, "ttm": true, "ltm": true, "capex": true, "opex": true,
	"sec": true, "ipo": true, "pe": true, "p/e": true, "ai": true,
	"january": true, "february": true, "march": true, "april": true, "may": true,
	"june": true, "july": true, "august": true, "september": true, "october": true,
	"november": true, "december": true,
}

// Analyzer classifies question structure.
type Analyzer struct {
	log *logger.Logger
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.Default()
	}
	return &Analyzer{log: log.WithComponent("query-analyzer")}
}

// Analyze classifies text and logs the result.
func (a *Analyzer) Analyze(ctx context.Context, text string) Analysis {
	analysis := Classify(text)

	a.log.WithContext(ctx).Debug("Analyzed query",
		"kind", analysis.Kind,
		"entities", len(analysis.Entities),
		"parts", len(analysis.Parts),
		"keywords", len(analysis.Keywords),
	)

	return analysis
}

// Classify is the pure classification of text. A comparison needs at least
// two entities and a comparison cue, and takes precedence over multi-part.
func Classify(text string) Analysis {
	analysis := Analysis{
		Kind:     KindSimple,
		Entities: ExtractEntities(text),
		Parts:    SplitClauses(text),
		Keywords: ExtractKeywords(text),
	}

	switch {
	case len(analysis.Entities) >= 2 && comparisonCueRe.MatchString(text):
		analysis.Kind = KindComparison
	case len(analysis.Parts) >= 2:
		analysis.Kind = KindMultiPart
	}

	return analysis
}

// SplitClauses splits text into question clauses. Fragments without any
// content keyword ("and?", "ok") are dropped.
func SplitClauses(text string) []string {
	var parts []string
	for _, sentence := range sentenceSplitRe.Split(text, -1) {
		for _, clause := range splitOnJoins(sentence) {
			clause = strings.Trim(strings.TrimSpace(clause), ",.")
			if clause == "" || len(ExtractKeywords(clause)) == 0 {
				continue
			}
			parts = append(parts, clause)
		}
	}
	return parts
}

func splitOnJoins(sentence string) []string {
	matches := clauseJoinRe.FindAllStringSubmatchIndex(sentence, -1)
	if len(matches) == 0 {
		return []string{sentence}
	}

	clauses := make([]string, 0, len(matches)+1)
	start := 0
	for _, m := range matches {
		clauses = append(clauses, sentence[start:m[0]])
		start = m[2]
	}
	return append(clauses, sentence[start:])
}

// ExtractEntities returns named entities: runs of capitalised words such as
// "Goldman Sachs" or tickers such as "AAPL". Matching is deduplicated
// case-insensitively and keeps first-seen order.
func ExtractEntities(text string) []string {
	var entities []string
	seen := make(map[string]bool)

	add := func(span []string) {
		if len(span) == 0 {
			return
		}
		name := strings.Join(span, " ")
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			entities = append(entities, name)
		}
	}

	var span []string
	for _, raw := range strings.Fields(text) {
		word, boundary := trimEntityWord(raw)
		if isEntityWord(word) {
			span = append(span, word)
		} else {
			add(span)
			span = nil
		}
		if boundary {
			add(span)
			span = nil
		}
	}
	add(span)

	return entities
}

// trimEntityWord strips surrounding punctuation and possessives. boundary
// reports whether the raw word ended a phrase (comma, question mark, ...).
func trimEntityWord(raw string) (string, bool) {
	boundary := strings.ContainsAny(raw[len(raw)-1:], ",.?;:!)")
	word := strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '&'
	})
	for _, suffix := range []string{"'s", "’s", "'", "’"} {
		if w, ok := strings.CutSuffix(word, suffix); ok {
			word = w
			break
		}
	}
	word = strings.TrimRight(word, "'’")
	return word, boundary
}

func isEntityWord(word string) bool {
	if word == "" || nonEntities[strings.ToLower(word)] {
		return false
	}

	first := []rune(word)[0]
	if !unicode.IsUpper(first) {
		return false
	}

	return len([]rune(word)) > 1
}
