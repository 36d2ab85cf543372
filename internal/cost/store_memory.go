package cost

import (
	"context"
	"sort"
	"sync"
)

// Memory store retention. Only the ledger's current day is ever read for
// budgeting; older buckets are kept for inspection up to these bounds.
const (
	DefaultMemoryRetainDays   = 7
	DefaultMemoryEventsPerDay = 10000
)

// MemoryStore keeps totals in process memory. Totals are lost on restart.
// It holds at most retainDays day buckets and maxEvents events per day.
type MemoryStore struct {
	mu         sync.Mutex
	totals     map[string]float64
	events     map[string][]Event
	retainDays int
	maxEvents  int
}

// NewMemoryStore creates an empty in-memory store with default retention.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithRetention(DefaultMemoryRetainDays, DefaultMemoryEventsPerDay)
}

// NewMemoryStoreWithRetention creates a store keeping retainDays buckets and
// maxEvents events per bucket. Values below 1 are raised to 1.
func NewMemoryStoreWithRetention(retainDays, maxEvents int) *MemoryStore {
	return &MemoryStore{
		totals:     make(map[string]float64),
		events:     make(map[string][]Event),
		retainDays: max(retainDays, 1),
		maxEvents:  max(maxEvents, 1),
	}
}

// Add implements Store. The total always includes every event; only the
// event list is capped.
func (s *MemoryStore) Add(_ context.Context, ev Event) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, known := s.totals[ev.Day]
	s.totals[ev.Day] += ev.CostUSD

	events := append(s.events[ev.Day], ev)
	if over := len(events) - s.maxEvents; over > 0 {
		events = append(events[:0:0], events[over:]...)
	}
	s.events[ev.Day] = events

	if !known {
		s.pruneLocked(ev.Day)
	}
	return s.totals[ev.Day], nil
}

// pruneLocked drops the oldest day buckets beyond retainDays. Day keys are
// YYYY-MM-DD, so lexical order is chronological. keep is never dropped.
func (s *MemoryStore) pruneLocked(keep string) {
	if len(s.totals) <= s.retainDays {
		return
	}
	days := make([]string, 0, len(s.totals))
	for day := range s.totals {
		if day != keep {
			days = append(days, day)
		}
	}
	sort.Strings(days)
	for _, day := range days[:len(s.totals)-s.retainDays] {
		delete(s.totals, day)
		delete(s.events, day)
	}
}

// Total implements Store.
func (s *MemoryStore) Total(_ context.Context, day string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totals[day], nil
}

// Events returns a copy of the events recorded for day.
func (s *MemoryStore) Events(day string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events[day]...)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
