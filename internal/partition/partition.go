// Package partition projects a GlobalLog onto its components and records the
// cross-component hand-offs needed to stitch the component models back together.
package partition

import (
	"fmt"
	"sort"

	"github.com/roach88/weave/internal/eventlog"
)

// TraceSlice is one trace's events for a single component, in sequence order.
type TraceSlice struct {
	TraceID string
	Events  []eventlog.Event
}

// Labels returns the slice's label stream.
func (s TraceSlice) Labels() []string {
	labels := make([]string, len(s.Events))
	for i, e := range s.Events {
		labels[i] = e.Label
	}
	return labels
}

// Partition holds one component's events, still split by trace and still
// annotated with their global sequence index.
// A Partition is read-only once Split returns.
type Partition struct {
	Component string
	Traces    []TraceSlice
}

// Labels returns one label sequence per trace, in trace order.
func (p *Partition) Labels() [][]string {
	out := make([][]string, len(p.Traces))
	for i, s := range p.Traces {
		out[i] = s.Labels()
	}
	return out
}

// EventCount returns the number of events in the partition.
func (p *Partition) EventCount() int {
	n := 0
	for _, s := range p.Traces {
		n += len(s.Events)
	}
	return n
}

// Alphabet returns the partition's distinct labels, sorted.
func (p *Partition) Alphabet() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range p.Traces {
		for _, e := range s.Events {
			if !seen[e.Label] {
				seen[e.Label] = true
				out = append(out, e.Label)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Pair is an observed hand-off: From and To are adjacent in one trace and
// belong to different components.
type Pair struct {
	From eventlog.Event
	To   eventlog.Event
}

func (p Pair) String() string {
	return fmt.Sprintf("%s:%s(%d) -> %s:%s(%d)",
		p.From.ComponentID, p.From.Label, p.From.Seq,
		p.To.ComponentID, p.To.Label, p.To.Seq)
}

// Touches reports whether either end of the pair belongs to component.
func (p Pair) Touches(component string) bool {
	return p.From.ComponentID == component || p.To.ComponentID == component
}

// Witness is the interleaving record derived from a GlobalLog.
//
// Pairs are ordered by From.Seq. Heads and Tails hold the first and last
// event of every non-empty trace, in trace order; the merger uses them to pick
// the global initial and accepting states.
type Witness struct {
	Pairs []Pair
	Heads []eventlog.Event
	Tails []eventlog.Event
}

// Result is the output of Split.
type Result struct {
	// Partitions is keyed by component id.
	Partitions map[string]*Partition

	// Components lists the partition keys in natural order.
	Components []string

	Witness Witness
}

// Split partitions the log in a single pass ordered by (trace_id, sequence_index).
//
// Split is a pure function of its input: the same log always yields the same
// partitions and witness. An empty log yields empty outputs.
func Split(log *eventlog.GlobalLog) (*Result, error) {
	res := &Result{Partitions: make(map[string]*Partition)}
	if log == nil {
		return res, nil
	}

	for _, tr := range log.Traces() {
		if len(tr.Events) == 0 {
			continue
		}
		// Index of each component's slice for this trace within its partition.
		slot := make(map[string]int)

		var prev *eventlog.Event
		for i := range tr.Events {
			e := tr.Events[i]
			if prev != nil && e.Seq <= prev.Seq {
				return nil, &eventlog.MalformedLogError{
					Code:    eventlog.ErrCodeMalformedLog,
					Message: fmt.Sprintf("sequence_index not strictly increasing (previous %d)", prev.Seq),
					TraceID: tr.ID,
					Seq:     e.Seq,
				}
			}

			p, ok := res.Partitions[e.ComponentID]
			if !ok {
				p = &Partition{Component: e.ComponentID}
				res.Partitions[e.ComponentID] = p
				res.Components = append(res.Components, e.ComponentID)
			}
			idx, ok := slot[e.ComponentID]
			if !ok {
				idx = len(p.Traces)
				slot[e.ComponentID] = idx
				p.Traces = append(p.Traces, TraceSlice{TraceID: tr.ID})
			}
			p.Traces[idx].Events = append(p.Traces[idx].Events, e)

			if prev != nil && prev.ComponentID != e.ComponentID {
				res.Witness.Pairs = append(res.Witness.Pairs, Pair{From: *prev, To: e})
			}
			prev = &tr.Events[i]
		}
		res.Witness.Heads = append(res.Witness.Heads, tr.Events[0])
		res.Witness.Tails = append(res.Witness.Tails, tr.Events[len(tr.Events)-1])
	}

	eventlog.SortNatural(res.Components)
	sort.SliceStable(res.Witness.Pairs, func(i, j int) bool {
		return res.Witness.Pairs[i].From.Seq < res.Witness.Pairs[j].From.Seq
	})
	return res, nil
}

// Reconstruct returns every partitioned event sorted by sequence index.
// For any valid log this equals log.Events().
func (r *Result) Reconstruct() []eventlog.Event {
	var out []eventlog.Event
	for _, c := range r.Components {
		for _, s := range r.Partitions[c].Traces {
			out = append(out, s.Events...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// EventCount returns the total number of partitioned events.
func (r *Result) EventCount() int {
	n := 0
	for _, p := range r.Partitions {
		n += p.EventCount()
	}
	return n
}
