package qdrant

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/qdrant/go-client/qdrant"
)

// payloadFields is the payload subset fetched with every passage.
var payloadFields = []string{PayloadDocumentName, PayloadPageNumber, PayloadText}

// DenseSearch returns the nearest passages to vector by the dense named vector.
func (c *Client) DenseSearch(ctx context.Context, vector []float32, limit uint64) ([]Passage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if len(vector) == 0 {
		return nil, fmt.Errorf("dense vector is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if limit == 0 {
		limit = 20
	}

	results, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.config.Collection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(c.config.DenseVector),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayloadInclude(payloadFields...),
	})
	if err != nil {
		return nil, fmt.Errorf("dense search failed: %w", err)
	}

	return scoredPointsToPassages(results), nil
}

// SparseSearch returns passages matching the hashed query terms by the
// sparse named vector. Scores are sparse dot products and are not bounded.
func (c *Client) SparseSearch(ctx context.Context, sparse SparseVector, limit uint64) ([]Passage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if len(sparse.Indices) == 0 || len(sparse.Indices) != len(sparse.Values) {
		return nil, fmt.Errorf("sparse indices and values are required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if limit == 0 {
		limit = 20
	}

	results, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.config.Collection,
		Query:          qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
		Using:          qdrant.PtrOf(c.config.SparseVector),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayloadInclude(payloadFields...),
	})
	if err != nil {
		return nil, fmt.Errorf("sparse search failed: %w", err)
	}

	return scoredPointsToPassages(results), nil
}

// DocumentNames scrolls the collection and returns the distinct document
// names, sorted.
func (c *Client) DocumentNames(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	seen := make(map[string]struct{})
	var offset *qdrant.PointId
	const batchSize = 256

	for {
		points, err := c.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: c.config.Collection,
			Limit:          qdrant.PtrOf(uint32(batchSize)),
			WithPayload:    qdrant.NewWithPayloadInclude(PayloadDocumentName),
			Offset:         offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		for _, p := range points {
			if name := getStringValue(p.Payload, PayloadDocumentName); name != "" {
				seen[name] = struct{}{}
			}
		}

		// The offset point is returned again on the next page, so a full
		// page is needed to make progress.
		if len(points) < batchSize {
			break
		}
		offset = points[len(points)-1].Id
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func scoredPointsToPassages(points []*qdrant.ScoredPoint) []Passage {
	passages := make([]Passage, 0, len(points))
	for _, p := range points {
		passage := passageFromPayload(p.Payload)
		passage.ID = pointID(p.Id)
		passage.Score = p.Score
		passages = append(passages, passage)
	}
	return passages
}

func passageFromPayload(payload map[string]*qdrant.Value) Passage {
	return Passage{
		DocumentName: getStringValue(payload, PayloadDocumentName),
		PageNumber:   getIntValue(payload, PayloadPageNumber),
		Text:         getStringValue(payload, PayloadText),
	}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

// Helper functions to extract values from Qdrant payload

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

// getIntValue accepts integer and float payloads; ingestion scripts write
// page numbers either way.
func getIntValue(payload map[string]*qdrant.Value, key string) int {
	if v, ok := payload[key]; ok {
		switch n := v.Kind.(type) {
		case *qdrant.Value_IntegerValue:
			return int(n.IntegerValue)
		case *qdrant.Value_DoubleValue:
			if !math.IsNaN(n.DoubleValue) {
				return int(n.DoubleValue)
			}
		}
	}
	return 0
}
