// Package query provides structural analysis of research questions.
package query

// Kind is the structural class of a question.
type Kind string

const (
	// KindSimple is a single question.
	KindSimple Kind = "simple"

	// KindMultiPart contains several distinct question clauses.
	KindMultiPart Kind = "multi_part"

	// KindComparison asks to compare two or more named entities.
	KindComparison Kind = "comparison"
)

// Analysis is the result of analyzing a question.
type Analysis struct {
	// Kind is the detected structure.
	Kind Kind `json:"kind"`

	// Entities are the named companies, tickers or products referenced.
	Entities []string `json:"entities,omitempty"`

	// Parts are the question clauses, in order. A simple question has one part.
	Parts []string `json:"parts,omitempty"`

	// Keywords are the content terms used for lexical retrieval.
	Keywords []string `json:"keywords,omitempty"`
}

// IsComparison reports whether the question compares entities.
func (a Analysis) IsComparison() bool {
	return a.Kind == KindComparison
}

// IsMultiPart reports whether the question has several clauses.
func (a Analysis) IsMultiPart() bool {
	return a.Kind == KindMultiPart
}
