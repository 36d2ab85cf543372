// Package observability keeps a bounded log of recent query outcomes, fed
// from the event bus.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/finresearch/research-assistant/internal/bus"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
	"github.com/finresearch/research-assistant/internal/rag"
)

// Entry is one finished query. The question text is never kept.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
	State       rag.State `json:"state"`
	Kind        string    `json:"kind,omitempty"`
	LatencyMs   int64     `json:"latency_ms"`
	Sources     int       `json:"sources"`
	ThreatScore float64   `json:"threat_score"`
}

// Outcome is "ok" for answered queries and the error kind otherwise.
func (e Entry) Outcome() string {
	if e.State == rag.StateFailed {
		if e.Kind == "" {
			return "error"
		}
		return e.Kind
	}
	return "ok"
}

// Summary aggregates the entries currently held.
type Summary struct {
	Count         int            `json:"count"`
	Outcomes      map[string]int `json:"outcomes"`
	MeanLatencyMs float64        `json:"mean_latency_ms"`
	MaxLatencyMs  int64          `json:"max_latency_ms"`
	Since         *time.Time     `json:"since,omitempty"`
}

// Service holds the most recent entries in a ring buffer.
type Service struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
	log     *logger.Logger
}

// NewService creates an activity log holding at most size entries.
func NewService(size int, log *logger.Logger) *Service {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		entries: make([]Entry, size),
		log:     log.WithComponent("activity"),
	}
}

// Subscribe feeds the log from query.completed events on b.
func (s *Service) Subscribe(ctx context.Context, b bus.Bus) error {
	return b.Subscribe(ctx, bus.TopicQueryCompleted, s.handle)
}

func (s *Service) handle(_ context.Context, event bus.Event) error {
	payload, err := decodePayload(event.Payload)
	if err != nil {
		return fmt.Errorf("decoding %s event %s: %w", event.Type, event.ID, err)
	}

	s.Record(Entry{
		Timestamp:   time.UnixMilli(event.Timestamp).UTC(),
		RequestID:   event.CorrelationID,
		State:       payload.State,
		Kind:        payload.Kind,
		LatencyMs:   payload.LatencyMs,
		Sources:     payload.Sources,
		ThreatScore: payload.ThreatScore,
	})
	return nil
}

// decodePayload accepts the struct published in process and the generic
// map a broker delivers.
func decodePayload(payload any) (rag.QueryCompleted, error) {
	switch p := payload.(type) {
	case rag.QueryCompleted:
		return p, nil
	case *rag.QueryCompleted:
		if p == nil {
			return rag.QueryCompleted{}, fmt.Errorf("nil payload")
		}
		return *p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return rag.QueryCompleted{}, err
	}
	var out rag.QueryCompleted
	if err := json.Unmarshal(data, &out); err != nil {
		return rag.QueryCompleted{}, err
	}
	if out.State == "" {
		return rag.QueryCompleted{}, fmt.Errorf("payload has no state")
	}
	return out, nil
}

// Record appends an entry, overwriting the oldest once full.
func (s *Service) Record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (s *Service) Recent(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out
}

// Summary aggregates everything currently held.
func (s *Service) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{Outcomes: make(map[string]int)}
	n := s.lenLocked()
	if n == 0 {
		return sum
	}

	var total int64
	var oldest time.Time
	for i := 0; i < n; i++ {
		e := s.entries[i]
		sum.Outcomes[e.Outcome()]++
		total += e.LatencyMs
		if e.LatencyMs > sum.MaxLatencyMs {
			sum.MaxLatencyMs = e.LatencyMs
		}
		if oldest.IsZero() || e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
	}

	sum.Count = n
	sum.MeanLatencyMs = float64(total) / float64(n)
	sum.Since = &oldest
	return sum
}

func (s *Service) lenLocked() int {
	if s.full {
		return len(s.entries)
	}
	return s.next
}
