package rag

import (
	"time"

	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
)

// State is a pipeline stage reached by a request.
type State string

// Pipeline states in order. Failed is terminal and replaces every later state.
const (
	StateReceived      State = "received"
	StateValidated     State = "validated"
	StateBudgetChecked State = "budget_checked"
	StateRetrieved     State = "retrieved"
	StateReranked      State = "reranked"
	StateFiltered      State = "filtered"
	StatePromptBuilt   State = "prompt_built"
	StateGenerated     State = "generated"
	StateCostRecorded  State = "cost_recorded"
	StateResponded     State = "responded"
	StateFailed        State = "failed"
)

// Trace records the states a request passed through.
type Trace struct {
	States []State
	// Kind is the error code when the request failed.
	Kind  string
	start time.Time
	stage time.Time
}

func newTrace(now time.Time) *Trace {
	return &Trace{States: []State{StateReceived}, start: now, stage: now}
}

// advance appends a state and returns the time spent since the previous one.
func (t *Trace) advance(s State, now time.Time) time.Duration {
	d := now.Sub(t.stage)
	t.stage = now
	t.States = append(t.States, s)
	return d
}

func (t *Trace) fail(err error, now time.Time) {
	t.Kind = apperrors.CodeOf(err)
	t.advance(StateFailed, now)
}

// Terminal returns the last state.
func (t *Trace) Terminal() State {
	return t.States[len(t.States)-1]
}

// Elapsed returns the time since the request was received.
func (t *Trace) Elapsed(now time.Time) time.Duration {
	return now.Sub(t.start)
}

// Outcome is the metrics label for the request result.
func (t *Trace) Outcome() string {
	if t.Terminal() == StateFailed {
		return t.Kind
	}
	return "ok"
}
