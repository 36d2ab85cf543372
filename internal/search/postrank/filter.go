// Package postrank selects the sources that reach the prompt.
package postrank

import (
	"github.com/finresearch/research-assistant/internal/pkg/security"
	"github.com/finresearch/research-assistant/internal/search"
)

// DefaultScoreThreshold is the minimum normalized score for a source.
const DefaultScoreThreshold = 0.30

// Options configures source filtering.
type Options struct {
	// ScoreThreshold drops candidates scoring below it.
	ScoreThreshold float64

	// ThreatThreshold suppresses every source when the query's threat score
	// is strictly above it.
	ThreatThreshold float64

	// TopK caps the number of sources.
	TopK int
}

// DefaultOptions returns the standard filter options for topK sources.
func DefaultOptions(topK int) Options {
	return Options{
		ScoreThreshold:  DefaultScoreThreshold,
		ThreatThreshold: security.DefaultThreatThreshold,
		TopK:            topK,
	}
}

// Result contains the filtered sources and statistics.
type Result struct {
	Sources []search.Candidate

	// Suppressed is true when the threat rule emptied the set.
	Suppressed bool

	// BelowThreshold counts candidates dropped for low scores.
	BelowThreshold int

	// Truncated counts candidates dropped by the TopK cap.
	Truncated int
}

// FilterSources applies the threat rule, the score threshold and the TopK cap
// in that order. Candidates are expected best first; their order is kept. The
// input slice is not modified and the result never shares storage with it.
func FilterSources(candidates []search.Candidate, threat security.ThreatAssessment, opts Options) Result {
	if threat.Exceeds(opts.ThreatThreshold) {
		return Result{Sources: []search.Candidate{}, Suppressed: true}
	}

	res := Result{Sources: make([]search.Candidate, 0, min(len(candidates), max(opts.TopK, 0)))}
	for _, c := range candidates {
		if c.Score < opts.ScoreThreshold {
			res.BelowThreshold++
			continue
		}
		if len(res.Sources) >= opts.TopK {
			res.Truncated++
			continue
		}
		res.Sources = append(res.Sources, c)
	}
	res.Sources = search.Clone(res.Sources)

	return res
}
