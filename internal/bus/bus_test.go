package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for events")
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), TopicCostRecorded, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), TopicCostRecorded, NewEvent(TopicCostRecorded, "test", "", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	waitOrFail(t, &wg)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var count1, count2 atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), TopicQueryCompleted, func(ctx context.Context, event Event) error {
		count1.Add(1)
		wg.Done()
		return nil
	})
	bus.Subscribe(context.Background(), TopicQueryCompleted, func(ctx context.Context, event Event) error {
		count2.Add(1)
		wg.Done()
		return errors.New("handler errors are logged, not returned")
	})

	wg.Add(2)
	if err := bus.Publish(context.Background(), TopicQueryCompleted, NewEvent(TopicQueryCompleted, "test", "req-1", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitOrFail(t, &wg)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("counts = %d, %d, want 1, 1", count1.Load(), count2.Load())
	}
}

func TestMemoryBus_HandlerOutlivesRequestContext(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	var ctxErr atomic.Value

	bus.Subscribe(context.Background(), TopicCostRecorded, func(ctx context.Context, event Event) error {
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			ctxErr.Store(ctx.Err())
		}
		wg.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	bus.Publish(ctx, TopicCostRecorded, NewEvent(TopicCostRecorded, "test", "", nil))
	cancel()

	waitOrFail(t, &wg)
	if v := ctxErr.Load(); v != nil {
		t.Errorf("handler saw cancelled context: %v", v)
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	if err := bus.Publish(context.Background(), "nobody.listens", Event{ID: "x"}); err != nil {
		t.Errorf("Publish() with no subscribers error = %v", err)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := bus.Publish(context.Background(), TopicCostRecorded, Event{}); err == nil {
		t.Error("Publish() after Close() should fail")
	}
	if err := bus.Subscribe(context.Background(), TopicCostRecorded, func(context.Context, Event) error { return nil }); err == nil {
		t.Error("Subscribe() after Close() should fail")
	}
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), TopicCostRecorded, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	const n = 100
	wg.Add(n)
	var pub sync.WaitGroup
	for i := 0; i < n; i++ {
		pub.Add(1)
		go func() {
			defer pub.Done()
			bus.Publish(context.Background(), TopicCostRecorded, NewEvent(TopicCostRecorded, "test", "", nil))
		}()
	}
	pub.Wait()
	waitOrFail(t, &wg)

	if got := received.Load(); got != n {
		t.Errorf("Received %d events, want %d", got, n)
	}
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(TopicCostRecorded, "cost-ledger", "req-9", map[string]float64{"usd": 0.1})
	b := NewEvent(TopicCostRecorded, "cost-ledger", "req-9", nil)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event IDs must be unique and non-empty: %q %q", a.ID, b.ID)
	}
	if a.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
	if a.CorrelationID != "req-9" || a.Source != "cost-ledger" {
		t.Errorf("unexpected event: %+v", a)
	}
}

type recordingMetrics struct {
	mu     sync.Mutex
	topics []string
	errs   int
}

func (r *recordingMetrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	if err != nil {
		r.errs++
	}
}

func TestInstrumentedBus(t *testing.T) {
	inner := NewMemoryBus(logger.Discard())
	rec := &recordingMetrics{}
	bus := NewInstrumentedBus(inner, rec)

	bus.Publish(context.Background(), TopicQueryCompleted, Event{})
	bus.Close()
	bus.Publish(context.Background(), TopicQueryCompleted, Event{})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.topics) != 2 || rec.errs != 1 {
		t.Errorf("topics=%v errs=%d, want 2 topics and 1 error", rec.topics, rec.errs)
	}
}

func TestNewBus(t *testing.T) {
	b, err := NewBus(config.BusConfig{Type: "memory"}, logger.Discard())
	if err != nil {
		t.Fatalf("NewBus(memory) error = %v", err)
	}
	b.Close()

	if _, err := NewBus(config.BusConfig{Type: "kafka"}, logger.Discard()); err == nil {
		t.Error("NewBus(kafka) without brokers should fail")
	}
	if _, err := NewBus(config.BusConfig{Type: "nats"}, logger.Discard()); err == nil {
		t.Error("NewBus(nats) should fail")
	}
}
