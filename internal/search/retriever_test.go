package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/qdrant"
)

type fakeIndex struct {
	dense       []qdrant.Passage
	sparse      []qdrant.Passage
	denseErr    error
	sparseErr   error
	denseLimit  atomic.Uint64
	sparseCalls atomic.Int32
}

func (f *fakeIndex) DenseSearch(_ context.Context, _ []float32, limit uint64) ([]qdrant.Passage, error) {
	f.denseLimit.Store(limit)
	return f.dense, f.denseErr
}

func (f *fakeIndex) SparseSearch(_ context.Context, sv qdrant.SparseVector, _ uint64) ([]qdrant.Passage, error) {
	f.sparseCalls.Add(1)
	if len(sv.Indices) == 0 {
		return nil, errors.New("empty sparse vector")
	}
	return f.sparse, f.sparseErr
}

func newTestRetriever(idx Index) *Retriever {
	return NewRetriever(idx, Config{OverfetchFactor: 3}, logger.Discard())
}

func TestRetriever_FusesBothPaths(t *testing.T) {
	idx := &fakeIndex{
		dense: []qdrant.Passage{
			{DocumentName: "apple-10k.pdf", PageNumber: 21, Text: "Net sales increased 2%.", Score: 0.81},
		},
		sparse: []qdrant.Passage{
			{DocumentName: "apple-10k.pdf", PageNumber: 21, Text: "Net sales increased 2%.", Score: 5},
			{DocumentName: "apple-10k.pdf", PageNumber: 30, Text: "Services net sales.", Score: 2.5},
		},
	}

	got, err := newTestRetriever(idx).Retrieve(context.Background(), []float32{0.1}, []string{"net", "sales"}, 5)
	require.NoError(t, err)

	assert.Equal(t, uint64(15), idx.denseLimit.Load())
	assert.Equal(t, 1, got.SemanticHits)
	assert.Equal(t, 2, got.KeywordHits)
	assert.Equal(t, 3, got.Results())
	assert.Empty(t, got.Degraded)

	require.Len(t, got.Candidates, 2)
	assert.Equal(t, MethodHybrid, got.Candidates[0].Method)
	assert.Equal(t, 1.0, got.Candidates[0].Score)
	assert.Equal(t, []string{"net", "sales"}, got.Candidates[0].MatchedKeywords)
	assert.Equal(t, MethodKeyword, got.Candidates[1].Method)
	assert.InDelta(t, 0.5, got.Candidates[1].Score, 1e-9)
}

func TestRetriever_OnePathFails(t *testing.T) {
	idx := &fakeIndex{
		denseErr: errors.New("qdrant: deadline exceeded"),
		sparse: []qdrant.Passage{
			{DocumentName: "msft-10k.pdf", PageNumber: 4, Text: "Revenue was $211.9 billion.", Score: 3},
		},
	}

	got, err := newTestRetriever(idx).Retrieve(context.Background(), []float32{0.1}, []string{"revenue"}, 5)
	require.NoError(t, err)
	assert.Equal(t, string(MethodSemantic), got.Degraded)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, MethodKeyword, got.Candidates[0].Method)
}

func TestRetriever_BothPathsFail(t *testing.T) {
	idx := &fakeIndex{
		denseErr:  errors.New("dense down"),
		sparseErr: errors.New("sparse down"),
	}

	_, err := newTestRetriever(idx).Retrieve(context.Background(), []float32{0.1}, []string{"revenue"}, 5)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRetrieval))
	assert.ErrorContains(t, err, "dense down")
	assert.ErrorContains(t, err, "sparse down")
}

func TestRetriever_NoKeywordsSkipsSparse(t *testing.T) {
	idx := &fakeIndex{
		dense: []qdrant.Passage{{DocumentName: "a.pdf", PageNumber: 1, Text: "x", Score: 0.4}},
	}

	got, err := newTestRetriever(idx).Retrieve(context.Background(), []float32{0.1}, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(0), idx.sparseCalls.Load())
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, MethodSemantic, got.Candidates[0].Method)

	idx.denseErr = errors.New("dense down")
	_, err = newTestRetriever(idx).Retrieve(context.Background(), []float32{0.1}, nil, 2)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRetrieval))
}

func TestRetriever_RejectsZeroTopK(t *testing.T) {
	_, err := newTestRetriever(&fakeIndex{}).Retrieve(context.Background(), []float32{0.1}, nil, 0)
	assert.Error(t, err)
}

func TestSorted_DoesNotMutateInput(t *testing.T) {
	in := []Candidate{
		{DocumentName: "b.pdf", PageNumber: 1, Score: 0.5, PassageHash: "h1"},
		{DocumentName: "a.pdf", PageNumber: 1, Score: 0.5, PassageHash: "h2"},
		{DocumentName: "c.pdf", PageNumber: 1, Score: 0.9, PassageHash: "h3", MatchedKeywords: []string{"x"}},
	}

	out := Sorted(in)
	assert.Equal(t, "b.pdf", in[0].DocumentName)
	assert.Equal(t, []string{"c.pdf", "a.pdf", "b.pdf"},
		[]string{out[0].DocumentName, out[1].DocumentName, out[2].DocumentName})

	out[0].MatchedKeywords[0] = "changed"
	assert.Equal(t, "x", in[2].MatchedKeywords[0])
}

func TestRetriever_NoVectorUsesKeywords(t *testing.T) {
	idx := &fakeIndex{
		sparse: []qdrant.Passage{{DocumentName: "a.pdf", PageNumber: 2, Text: "debt rose", Score: 1}},
	}

	got, err := newTestRetriever(idx).Retrieve(context.Background(), nil, []string{"debt"}, 3)
	require.NoError(t, err)
	assert.Equal(t, string(MethodSemantic), got.Degraded)
	assert.Equal(t, uint64(0), idx.denseLimit.Load())
	require.Len(t, got.Candidates, 1)
}
