package ml

import (
	"sort"

	"github.com/finresearch/research-assistant/internal/pkg/hash"
)

// SparseVector represents a sparse vector with indices and values.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// EncodeKeywords builds the keyword query vector: every term hashes to one
// dimension with weight 1. Hash collisions add up. Indices are sorted and
// unique, as the index requires.
func EncodeKeywords(keywords []string) SparseVector {
	weights := make(map[uint32]float32, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		weights[hash.TermIndex(kw)]++
	}

	sv := SparseVector{
		Indices: make([]uint32, 0, len(weights)),
		Values:  make([]float32, 0, len(weights)),
	}
	for idx := range weights {
		sv.Indices = append(sv.Indices, idx)
	}
	sort.Slice(sv.Indices, func(i, j int) bool { return sv.Indices[i] < sv.Indices[j] })
	for _, idx := range sv.Indices {
		sv.Values = append(sv.Values, weights[idx])
	}

	return sv
}
