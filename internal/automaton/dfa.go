// Package automaton defines the finite-state models exchanged between the
// inference engines and the merger.
//
// A DFA is the body of a ComponentModel: states are opaque strings chosen by
// the engine, transitions are deterministic, and the value is immutable once
// built by New.
package automaton

import (
	"fmt"
	"sort"
)

// Transition is one labelled edge.
type Transition struct {
	From  string `json:"from"`
	Label string `json:"label"`
	To    string `json:"to"`
}

// DFA is a deterministic finite automaton.
type DFA struct {
	states    []string
	alphabet  []string
	initial   string
	accepting map[string]bool
	delta     map[string]map[string]string
}

// New validates and indexes an automaton description.
//
// States and alphabet are deduplicated and sorted. Every transition endpoint
// and accepting state must be a declared state, every transition label must be
// in the alphabet, and no state may have two transitions on one label.
func New(states, alphabet []string, initial string, accepting []string, transitions []Transition) (*DFA, error) {
	d := &DFA{
		initial:   initial,
		accepting: make(map[string]bool, len(accepting)),
		delta:     make(map[string]map[string]string),
	}

	stateSet := make(map[string]bool, len(states))
	for _, s := range states {
		if !stateSet[s] {
			stateSet[s] = true
			d.states = append(d.states, s)
		}
	}
	sort.Strings(d.states)

	labelSet := make(map[string]bool, len(alphabet))
	for _, a := range alphabet {
		if !labelSet[a] {
			labelSet[a] = true
			d.alphabet = append(d.alphabet, a)
		}
	}
	sort.Strings(d.alphabet)

	if !stateSet[initial] {
		return nil, fmt.Errorf("initial state %q is not a declared state", initial)
	}
	for _, s := range accepting {
		if !stateSet[s] {
			return nil, fmt.Errorf("accepting state %q is not a declared state", s)
		}
		d.accepting[s] = true
	}
	for _, t := range transitions {
		if !stateSet[t.From] || !stateSet[t.To] {
			return nil, fmt.Errorf("transition %s -%s-> %s references an undeclared state", t.From, t.Label, t.To)
		}
		if !labelSet[t.Label] {
			return nil, fmt.Errorf("transition %s -%s-> %s uses label outside the alphabet", t.From, t.Label, t.To)
		}
		out := d.delta[t.From]
		if out == nil {
			out = make(map[string]string)
			d.delta[t.From] = out
		}
		if prev, ok := out[t.Label]; ok && prev != t.To {
			return nil, fmt.Errorf("state %q is non-deterministic on label %q (%s, %s)", t.From, t.Label, prev, t.To)
		}
		out[t.Label] = t.To
	}
	return d, nil
}

// States returns the sorted state set.
func (d *DFA) States() []string { return d.states }

// Alphabet returns the sorted alphabet.
func (d *DFA) Alphabet() []string { return d.alphabet }

// Initial returns the initial state.
func (d *DFA) Initial() string { return d.initial }

// IsAccepting reports whether s is an accepting state.
func (d *DFA) IsAccepting(s string) bool { return d.accepting[s] }

// Accepting returns the sorted accepting states.
func (d *DFA) Accepting() []string {
	out := make([]string, 0, len(d.accepting))
	for s := range d.accepting {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Step follows the transition from s on label.
func (d *DFA) Step(s, label string) (string, bool) {
	next, ok := d.delta[s][label]
	return next, ok
}

// OutLabels returns the sorted labels leaving s.
func (d *DFA) OutLabels(s string) []string {
	out := make([]string, 0, len(d.delta[s]))
	for l := range d.delta[s] {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Transitions returns every transition ordered by (from, label).
func (d *DFA) Transitions() []Transition {
	var out []Transition
	for _, s := range d.states {
		for _, l := range d.OutLabels(s) {
			out = append(out, Transition{From: s, Label: l, To: d.delta[s][l]})
		}
	}
	return out
}

// Run replays labels from the initial state and returns the visited states,
// starting with the initial state. It returns the index of the first label
// that has no transition, or -1 when the whole sequence was consumed.
func (d *DFA) Run(labels []string) (path []string, stuck int) {
	path = make([]string, 0, len(labels)+1)
	cur := d.initial
	path = append(path, cur)
	for i, l := range labels {
		next, ok := d.Step(cur, l)
		if !ok {
			return path, i
		}
		cur = next
		path = append(path, cur)
	}
	return path, -1
}

// Accepts reports whether labels drive the automaton to an accepting state.
func (d *DFA) Accepts(labels []string) bool {
	path, stuck := d.Run(labels)
	return stuck < 0 && d.accepting[path[len(path)-1]]
}

// Isomorphic reports whether a and b are the same automaton up to state names,
// considering only states reachable from the initial state.
func Isomorphic(a, b *DFA) bool {
	if a == nil || b == nil {
		return a == b
	}
	m := map[string]string{a.initial: b.initial}
	used := map[string]bool{b.initial: true}
	queue := []string{a.initial}
	for len(queue) > 0 {
		sa := queue[0]
		queue = queue[1:]
		sb := m[sa]
		if a.accepting[sa] != b.accepting[sb] {
			return false
		}
		la, lb := a.OutLabels(sa), b.OutLabels(sb)
		if len(la) != len(lb) {
			return false
		}
		for i, l := range la {
			if lb[i] != l {
				return false
			}
			na, nb := a.delta[sa][l], b.delta[sb][l]
			if mapped, ok := m[na]; ok {
				if mapped != nb {
					return false
				}
				continue
			}
			if used[nb] {
				return false
			}
			m[na] = nb
			used[nb] = true
			queue = append(queue, na)
		}
	}
	return true
}
