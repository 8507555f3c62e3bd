package eventlog

import (
	"sort"
	"strings"
)

// Event is one abstract, component-tagged log entry.
// Label is an already-mined template symbol, never raw text.
type Event struct {
	TraceID      string `json:"trace_id" yaml:"trace"`
	Seq          int64  `json:"sequence_index" yaml:"seq"`
	ComponentID  string `json:"component_id" yaml:"component"`
	Label        string `json:"label" yaml:"label"`
	RawTimestamp string `json:"raw_timestamp,omitempty" yaml:"raw_timestamp,omitempty"`
}

// Trace is one execution's events in sequence order.
type Trace struct {
	ID     string
	Events []Event
}

// Labels returns the trace's label stream.
func (t Trace) Labels() []string {
	labels := make([]string, len(t.Events))
	for i, e := range t.Events {
		labels[i] = e.Label
	}
	return labels
}

// Components returns the distinct components of the trace in natural order.
func (t Trace) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.Events {
		if !seen[e.ComponentID] {
			seen[e.ComponentID] = true
			out = append(out, e.ComponentID)
		}
	}
	SortNatural(out)
	return out
}

// GlobalLog is an immutable, validated interleaved log.
//
// Traces are held in natural trace-id order. Slices returned by accessors share
// storage with the log and must not be modified.
type GlobalLog struct {
	traces []Trace
	index  map[string]int
	count  int
}

// New validates events and builds a GlobalLog.
//
// Events are grouped by TraceID keeping their input order; each trace's input
// order must already be strictly increasing in Seq. Seq values must be unique
// across the log. An empty input yields an empty log.
func New(events []Event) (*GlobalLog, error) {
	l := &GlobalLog{index: make(map[string]int)}
	seen := make(map[int64]string, len(events))

	for _, e := range events {
		if e.TraceID == "" {
			return nil, malformed("", e.Seq, "event has empty trace_id")
		}
		if e.ComponentID == "" {
			return nil, malformed(e.TraceID, e.Seq, "event has empty component_id")
		}
		if e.Label == "" {
			return nil, malformed(e.TraceID, e.Seq, "event has empty label")
		}
		if other, dup := seen[e.Seq]; dup {
			return nil, malformed(e.TraceID, e.Seq, "sequence_index already used by trace %q", other)
		}
		seen[e.Seq] = e.TraceID

		idx, ok := l.index[e.TraceID]
		if !ok {
			idx = len(l.traces)
			l.index[e.TraceID] = idx
			l.traces = append(l.traces, Trace{ID: e.TraceID})
		}
		tr := &l.traces[idx]
		if n := len(tr.Events); n > 0 && tr.Events[n-1].Seq >= e.Seq {
			return nil, malformed(e.TraceID, e.Seq,
				"sequence_index not strictly increasing (previous %d)", tr.Events[n-1].Seq)
		}
		tr.Events = append(tr.Events, e)
		l.count++
	}

	sort.SliceStable(l.traces, func(i, j int) bool {
		return NaturalLess(l.traces[i].ID, l.traces[j].ID)
	})
	for i, tr := range l.traces {
		l.index[tr.ID] = i
	}
	return l, nil
}

// Len returns the number of events.
func (l *GlobalLog) Len() int {
	return l.count
}

// Traces returns the traces in natural trace-id order.
func (l *GlobalLog) Traces() []Trace {
	return l.traces
}

// Trace looks up a trace by id.
func (l *GlobalLog) Trace(id string) (Trace, bool) {
	idx, ok := l.index[id]
	if !ok {
		return Trace{}, false
	}
	return l.traces[idx], true
}

// Events returns all events sorted by sequence index.
func (l *GlobalLog) Events() []Event {
	out := make([]Event, 0, l.count)
	for _, tr := range l.traces {
		out = append(out, tr.Events...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Components returns every component id present, in natural order.
func (l *GlobalLog) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tr := range l.traces {
		for _, e := range tr.Events {
			if !seen[e.ComponentID] {
				seen[e.ComponentID] = true
				out = append(out, e.ComponentID)
			}
		}
	}
	SortNatural(out)
	return out
}

// ComponentSetDiversity is the number of distinct per-trace component sets
// divided by the number of traces. Zero for an empty log.
func (l *GlobalLog) ComponentSetDiversity() float64 {
	if len(l.traces) == 0 {
		return 0
	}
	sets := make(map[string]bool)
	for _, tr := range l.traces {
		sets[strings.Join(tr.Components(), "\x00")] = true
	}
	return float64(len(sets)) / float64(len(l.traces))
}
