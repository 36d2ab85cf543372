package cost

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finresearch/research-assistant/internal/bus"
	"github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// ErrBudgetExceeded is wrapped by the error CheckBudget returns once the cap is hit.
var ErrBudgetExceeded = stderrors.New("daily cost limit reached")

// Observer is notified after every recorded event.
type Observer func(ev Event, dailyTotal float64)

// LedgerConfig holds the budget parameters.
type LedgerConfig struct {
	DailyLimitUSD float64
	ResetHour     int
	Pricing       Pricing
}

// Ledger prices external calls and enforces the daily budget.
type Ledger struct {
	store    Store
	cfg      LedgerConfig
	now      func() time.Time
	bus      bus.Bus
	observer Observer
	log      *logger.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithBus publishes every event to the bus.
func WithBus(b bus.Bus) Option {
	return func(l *Ledger) { l.bus = b }
}

// WithObserver registers a callback for every recorded event.
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// NewLedger creates a ledger backed by store.
func NewLedger(store Store, cfg LedgerConfig, log *logger.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = logger.Default()
	}
	l := &Ledger{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   log.WithComponent("cost-ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DailyLimit returns the configured cap.
func (l *Ledger) DailyLimit() float64 {
	return l.cfg.DailyLimitUSD
}

// Pricing returns the price table.
func (l *Ledger) Pricing() Pricing {
	return l.cfg.Pricing
}

// CurrentDay returns the bucket key for now.
func (l *Ledger) CurrentDay() string {
	return DayKey(l.now(), l.cfg.ResetHour)
}

// CheckBudget fails with a BUDGET_EXCEEDED error when the current bucket has
// reached the cap. It must run before the first priced call of a request.
func (l *Ledger) CheckBudget(ctx context.Context) error {
	day := l.CurrentDay()
	total, err := l.store.Total(ctx, day)
	if err != nil {
		return errors.InternalError("cost ledger unavailable", err)
	}

	if total >= l.cfg.DailyLimitUSD {
		l.log.WithContext(ctx).Warn("Daily cost limit reached",
			"day", day,
			"daily_total", total,
			"daily_limit", l.cfg.DailyLimitUSD,
		)
		return errors.BudgetExceededError(fmt.Errorf("%w: %.4f >= %.2f", ErrBudgetExceeded, total, l.cfg.DailyLimitUSD))
	}

	return nil
}

// RecordCost prices units of category and adds them to the current bucket.
func (l *Ledger) RecordCost(ctx context.Context, category Category, units int) (float64, error) {
	return l.Record(ctx, Usage{Category: category, Units: units})
}

// Record prices a call and atomically adds it to the current bucket,
// returning the new total. The bucket is fixed at the moment of recording.
func (l *Ledger) Record(ctx context.Context, u Usage) (float64, error) {
	usd, err := l.cfg.Pricing.Price(u)
	if err != nil {
		return 0, errors.InternalError("pricing failed", err)
	}

	now := l.now().UTC()
	ev := Event{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Day:         DayKey(now, l.cfg.ResetHour),
		Category:    u.Category,
		Units:       u.Units,
		OutputUnits: u.OutputUnits,
		CostUSD:     usd,
		RequestID:   logger.RequestIDFromContext(ctx),
	}

	total, err := l.store.Add(ctx, ev)
	if err != nil {
		return 0, errors.InternalError("recording cost failed", err)
	}

	log := l.log.WithContext(ctx)
	log.Debug("Cost recorded",
		"category", ev.Category,
		"units", ev.Units,
		"cost_usd", usd,
		"daily_total", total,
	)

	if l.observer != nil {
		l.observer(ev, total)
	}

	l.publish(ctx, bus.TopicCostRecorded, ev)

	if prev := total - usd; prev < l.cfg.DailyLimitUSD && total >= l.cfg.DailyLimitUSD {
		log.Warn("Daily cost limit exceeded",
			"day", ev.Day,
			"daily_total", total,
			"daily_limit", l.cfg.DailyLimitUSD,
		)
		l.publish(ctx, bus.TopicBudgetExceeded, Summary{
			Date:          ev.Day,
			DailyTotal:    total,
			DailyLimit:    l.cfg.DailyLimitUSD,
			LimitExceeded: true,
		})
	}

	return total, nil
}

func (l *Ledger) publish(ctx context.Context, topic string, payload any) {
	if l.bus == nil {
		return
	}
	event := bus.NewEvent(topic, "cost-ledger", logger.RequestIDFromContext(ctx), payload)
	if err := l.bus.Publish(ctx, topic, event); err != nil {
		l.log.WithContext(ctx).Warn("Failed to publish cost event", "topic", topic, "error", err)
	}
}

// Summary reports the current bucket. It has no side effects.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	day := l.CurrentDay()
	total, err := l.store.Total(ctx, day)
	if err != nil {
		return Summary{}, errors.InternalError("cost ledger unavailable", err)
	}

	return Summary{
		Date:            day,
		DailyTotal:      total,
		DailyLimit:      l.cfg.DailyLimitUSD,
		LimitExceeded:   total >= l.cfg.DailyLimitUSD,
		RemainingBudget: max(0, l.cfg.DailyLimitUSD-total),
	}, nil
}

// Ping checks that the backing store answers.
func (l *Ledger) Ping(ctx context.Context) error {
	_, err := l.store.Total(ctx, l.CurrentDay())
	return err
}

// Close closes the backing store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
