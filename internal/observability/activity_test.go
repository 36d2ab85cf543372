package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finresearch/research-assistant/internal/bus"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/rag"
)

func entry(latency int64, state rag.State, kind string) Entry {
	return Entry{Timestamp: time.UnixMilli(latency).UTC(), State: state, Kind: kind, LatencyMs: latency}
}

func TestRecent_NewestFirstAndWraps(t *testing.T) {
	s := NewService(3, logger.Discard())
	for i := int64(1); i <= 5; i++ {
		s.Record(entry(i, rag.StateResponded, ""))
	}

	got := s.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{got[0].LatencyMs, got[1].LatencyMs, got[2].LatencyMs})

	assert.Len(t, s.Recent(2), 2)
	assert.Equal(t, int64(5), s.Recent(1)[0].LatencyMs)
}

func TestRecent_Empty(t *testing.T) {
	s := NewService(10, nil)
	assert.Empty(t, s.Recent(5))

	sum := s.Summary()
	assert.Zero(t, sum.Count)
	assert.Nil(t, sum.Since)
}

func TestSummary(t *testing.T) {
	s := NewService(10, logger.Discard())
	s.Record(entry(100, rag.StateResponded, ""))
	s.Record(entry(300, rag.StateResponded, ""))
	s.Record(entry(20, rag.StateFailed, "BUDGET_EXCEEDED"))
	s.Record(entry(40, rag.StateFailed, ""))

	sum := s.Summary()
	assert.Equal(t, 4, sum.Count)
	assert.Equal(t, map[string]int{"ok": 2, "BUDGET_EXCEEDED": 1, "error": 1}, sum.Outcomes)
	assert.InDelta(t, 115.0, sum.MeanLatencyMs, 1e-9)
	assert.Equal(t, int64(300), sum.MaxLatencyMs)
	require.NotNil(t, sum.Since)
	assert.Equal(t, time.UnixMilli(20).UTC(), *sum.Since)
}

func TestDecodePayload(t *testing.T) {
	direct := rag.QueryCompleted{State: rag.StateResponded, Sources: 3}
	got, err := decodePayload(direct)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Sources)

	got, err = decodePayload(&direct)
	require.NoError(t, err)
	assert.Equal(t, rag.StateResponded, got.State)

	// Shape delivered by a broker after JSON round trip.
	generic := map[string]any{"state": "failed", "kind": "RATE_LIMITED", "latency_ms": 12.0, "sources": 0.0}
	got, err = decodePayload(generic)
	require.NoError(t, err)
	assert.Equal(t, rag.StateFailed, got.State)
	assert.Equal(t, "RATE_LIMITED", got.Kind)
	assert.Equal(t, int64(12), got.LatencyMs)

	_, err = decodePayload(map[string]any{"sources": 1})
	assert.Error(t, err)
}

func TestSubscribe_RecordsPublishedEvents(t *testing.T) {
	b := bus.NewMemoryBus(logger.Discard())
	s := NewService(10, logger.Discard())
	require.NoError(t, s.Subscribe(context.Background(), b))

	event := bus.NewEvent(bus.TopicQueryCompleted, "rag", "req-1", rag.QueryCompleted{
		State:       rag.StateResponded,
		LatencyMs:   250,
		Sources:     2,
		ThreatScore: 0.1,
	})
	require.NoError(t, b.Publish(context.Background(), bus.TopicQueryCompleted, event))
	require.True(t, b.DrainTimeout(time.Second))

	got := s.Recent(0)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, "ok", got[0].Outcome())
	assert.Equal(t, 2, got[0].Sources)
}

func TestRecord_Concurrent(t *testing.T) {
	s := NewService(50, logger.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Record(entry(int64(i), rag.StateResponded, ""))
			_ = s.Recent(5)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Summary().Count)
}
