package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/eventlog"
)

// LogBuilder assembles GlobalLogs for tests. Events receive increasing
// sequence indices in the order they are added, across all traces, which is
// how an interleaved log is recorded.
//
//	log := testutil.NewLogBuilder().
//		Trace("t1", "A:a1", "A:a2", "B:b1").
//		Trace("t2", "A:a1", "B:b1", "B:b2").
//		Build(t)
type LogBuilder struct {
	clock  *SeqClock
	events []eventlog.Event
}

// NewLogBuilder starts an empty log.
func NewLogBuilder() *LogBuilder {
	return &LogBuilder{clock: NewSeqClock()}
}

// WithClock replaces the sequence clock.
func (b *LogBuilder) WithClock(c *SeqClock) *LogBuilder {
	b.clock = c
	return b
}

// Emit appends one event.
func (b *LogBuilder) Emit(traceID, component, label string) *LogBuilder {
	b.events = append(b.events, eventlog.Event{
		TraceID:     traceID,
		Seq:         b.clock.Next(),
		ComponentID: component,
		Label:       label,
	})
	return b
}

// Trace appends a run of "component:label" steps to traceID.
func (b *LogBuilder) Trace(traceID string, steps ...string) *LogBuilder {
	for _, s := range steps {
		comp, label := SplitStep(s)
		b.Emit(traceID, comp, label)
	}
	return b
}

// Events returns the events added so far.
func (b *LogBuilder) Events() []eventlog.Event {
	return append([]eventlog.Event(nil), b.events...)
}

// Build validates the events into a GlobalLog, failing the test on error.
func (b *LogBuilder) Build(t testing.TB) *eventlog.GlobalLog {
	t.Helper()
	l, err := eventlog.New(b.events)
	require.NoError(t, err)
	return l
}

// SplitStep splits "component:label". A step without a colon is a label of
// component "main".
func SplitStep(step string) (component, label string) {
	for i := 0; i < len(step); i++ {
		if step[i] == ':' {
			return step[:i], step[i+1:]
		}
	}
	return "main", step
}

// ExampleLog is the two-trace, two-component log used across package tests:
//
//	t1: A:a1 A:a2 B:b1
//	t2: A:a1 B:b1 B:b2
func ExampleLog(t testing.TB) *eventlog.GlobalLog {
	t.Helper()
	return NewLogBuilder().
		Trace("t1", "A:a1", "A:a2", "B:b1").
		Trace("t2", "A:a1", "B:b1", "B:b2").
		Build(t)
}
