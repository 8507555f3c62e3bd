package automaton

import (
	"sort"
	"strconv"
	"strings"
)

// NFA is a mutable non-deterministic automaton over integer states, used as
// scratch space by engines before determinization.
type NFA struct {
	initial   int
	accepting map[int]bool
	edges     map[int]map[string]map[int]bool
	size      int
}

// NewNFA returns an NFA with states 0..n-1 and the given initial state.
func NewNFA(n, initial int) *NFA {
	return &NFA{
		initial:   initial,
		accepting: make(map[int]bool),
		edges:     make(map[int]map[string]map[int]bool),
		size:      n,
	}
}

// Size returns the number of states.
func (n *NFA) Size() int { return n.size }

// AddEdge adds from -label-> to.
func (n *NFA) AddEdge(from int, label string, to int) {
	out := n.edges[from]
	if out == nil {
		out = make(map[string]map[int]bool)
		n.edges[from] = out
	}
	dst := out[label]
	if dst == nil {
		dst = make(map[int]bool)
		out[label] = dst
	}
	dst[to] = true
}

// SetAccepting marks s as accepting.
func (n *NFA) SetAccepting(s int) { n.accepting[s] = true }

// Determinize runs subset construction from the initial state.
//
// Subsets are explored breadth-first with labels in sorted order and named
// "0", "1", ... in discovery order, so equal inputs always yield equal output.
// A subset is accepting if any member is.
func (n *NFA) Determinize() *DFA {
	type subset struct {
		key     string
		members []int
	}
	mk := func(members []int) subset {
		sort.Ints(members)
		parts := make([]string, len(members))
		for i, m := range members {
			parts[i] = strconv.Itoa(m)
		}
		return subset{key: strings.Join(parts, ","), members: members}
	}

	names := make(map[string]string)
	start := mk([]int{n.initial})
	names[start.key] = "0"
	queue := []subset{start}

	var (
		states      []string
		accepting   []string
		transitions []Transition
		alphabet    = make(map[string]bool)
	)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		name := names[cur.key]
		states = append(states, name)

		targets := make(map[string]map[int]bool)
		for _, m := range cur.members {
			if n.accepting[m] && (len(accepting) == 0 || accepting[len(accepting)-1] != name) {
				accepting = append(accepting, name)
			}
			for label, dst := range n.edges[m] {
				set := targets[label]
				if set == nil {
					set = make(map[int]bool)
					targets[label] = set
				}
				for d := range dst {
					set[d] = true
				}
			}
		}

		labels := make([]string, 0, len(targets))
		for l := range targets {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			alphabet[l] = true
			members := make([]int, 0, len(targets[l]))
			for d := range targets[l] {
				members = append(members, d)
			}
			next := mk(members)
			nextName, seen := names[next.key]
			if !seen {
				nextName = strconv.Itoa(len(names))
				names[next.key] = nextName
				queue = append(queue, next)
			}
			transitions = append(transitions, Transition{From: name, Label: l, To: nextName})
		}
	}

	labels := make([]string, 0, len(alphabet))
	for l := range alphabet {
		labels = append(labels, l)
	}
	// Subset construction output is well formed by construction.
	d, err := New(states, labels, "0", accepting, transitions)
	if err != nil {
		panic("automaton: determinize produced invalid DFA: " + err.Error())
	}
	return d
}
