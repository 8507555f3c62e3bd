package merge

import (
	"fmt"
	"sort"

	"github.com/roach88/weave/internal/automaton"
)

// SyncTag is the component tag of a node collapsed across components.
const SyncTag = "~sync"

// Node is one GlobalModel state.
type Node struct {
	ID string

	// Component is the originating component, or SyncTag.
	Component string

	// Members lists the tagged component states a collapsed node stands for.
	// A node that was never collapsed has exactly itself as member.
	Members []string

	Initial   bool
	Accepting bool
}

// Boundary is the witness pair a synchronization edge was stitched from.
type Boundary struct {
	TraceID string `json:"trace_id"`
	FromSeq int64  `json:"from_seq"`
	ToSeq   int64  `json:"to_seq"`
}

// Edge is one GlobalModel transition. Synchronization edges have an empty
// label and consume no input.
type Edge struct {
	From  string
	To    string
	Label string
	Sync  bool

	// Origins lists the witness pairs behind a synchronization edge, in
	// witness order.
	Origins []Boundary
}

func (e Edge) String() string {
	if e.Sync {
		return fmt.Sprintf("%s ~> %s", e.From, e.To)
	}
	return fmt.Sprintf("%s -%s-> %s", e.From, e.Label, e.To)
}

type edgeKey struct {
	from, to, label string
	sync            bool
}

func (e Edge) key() edgeKey {
	return edgeKey{from: e.From, to: e.To, label: e.Label, sync: e.Sync}
}

// GlobalModel is the merged system automaton: the disjoint union of the tagged
// component automata, joined by synchronization edges. It is nondeterministic
// in general and immutable once built.
type GlobalModel struct {
	nodes []Node
	index map[string]int
	edges []Edge
	out   map[string][]int
}

func newGlobalModel(nodes []Node, edges []Edge) (*GlobalModel, error) {
	g := &GlobalModel{
		nodes: nodes,
		index: make(map[string]int, len(nodes)),
		edges: edges,
		out:   make(map[string][]int),
	}
	for i, n := range nodes {
		if _, dup := g.index[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node %q", n.ID)
		}
		g.index[n.ID] = i
	}
	for i, e := range edges {
		if _, ok := g.index[e.From]; !ok {
			return nil, fmt.Errorf("edge %s: unknown source node", e)
		}
		if _, ok := g.index[e.To]; !ok {
			return nil, fmt.Errorf("edge %s: unknown target node", e)
		}
		if e.Sync && e.Label != "" {
			return nil, fmt.Errorf("edge %s: synchronization edge carries label %q", e, e.Label)
		}
		if !e.Sync && e.Label == "" {
			return nil, fmt.Errorf("edge %s: empty label", e)
		}
		g.out[e.From] = append(g.out[e.From], i)
	}
	return g, nil
}

// Nodes returns the model's nodes in construction order.
func (g *GlobalModel) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Node returns the node with the given id.
func (g *GlobalModel) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Edges returns every edge: component transitions first, then
// synchronization edges in witness order.
func (g *GlobalModel) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// SyncEdges returns only the synchronization edges.
func (g *GlobalModel) SyncEdges() []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Sync {
			out = append(out, e)
		}
	}
	return out
}

// Alphabet returns the union of all transition labels, sorted.
func (g *GlobalModel) Alphabet() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.edges {
		if !e.Sync && !seen[e.Label] {
			seen[e.Label] = true
			out = append(out, e.Label)
		}
	}
	sort.Strings(out)
	return out
}

// Initial returns the ids of all initial nodes, in node order.
func (g *GlobalModel) Initial() []string {
	var out []string
	for _, n := range g.nodes {
		if n.Initial {
			out = append(out, n.ID)
		}
	}
	return out
}

// Components returns the distinct component tags, sorted.
func (g *GlobalModel) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range g.nodes {
		if !seen[n.Component] {
			seen[n.Component] = true
			out = append(out, n.Component)
		}
	}
	sort.Strings(out)
	return out
}

// closure extends set with everything reachable over synchronization edges.
func (g *GlobalModel) closure(set map[string]bool) {
	stack := make([]string, 0, len(set))
	for id := range set {
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, i := range g.out[id] {
			e := g.edges[i]
			if e.Sync && !set[e.To] {
				set[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
}

// Accepts replays labels from the initial nodes, following synchronization
// edges freely, and reports whether an accepting node is reachable at the end.
func (g *GlobalModel) Accepts(labels []string) bool {
	_, ok := g.Replay(labels)
	return ok
}

// Replay is Accepts that also returns how many labels were consumed before
// the replay got stuck (len(labels) when it did not).
func (g *GlobalModel) Replay(labels []string) (consumed int, accepted bool) {
	cur := make(map[string]bool)
	for _, id := range g.Initial() {
		cur[id] = true
	}
	g.closure(cur)

	for i, l := range labels {
		next := make(map[string]bool)
		for id := range cur {
			for _, j := range g.out[id] {
				e := g.edges[j]
				if !e.Sync && e.Label == l {
					next[e.To] = true
				}
			}
		}
		if len(next) == 0 {
			return i, false
		}
		g.closure(next)
		cur = next
	}

	for id := range cur {
		if g.nodes[g.index[id]].Accepting {
			return len(labels), true
		}
	}
	return len(labels), false
}

// AsDFA converts a model without synchronization edges and with a single
// initial node into an automaton.DFA. It fails if the model is
// nondeterministic.
func (g *GlobalModel) AsDFA() (*automaton.DFA, error) {
	initial := g.Initial()
	if len(initial) != 1 {
		return nil, fmt.Errorf("model has %d initial nodes", len(initial))
	}
	states := make([]string, 0, len(g.nodes))
	var accepting []string
	for _, n := range g.nodes {
		states = append(states, n.ID)
		if n.Accepting {
			accepting = append(accepting, n.ID)
		}
	}
	transitions := make([]automaton.Transition, 0, len(g.edges))
	for _, e := range g.edges {
		if e.Sync {
			return nil, fmt.Errorf("model has synchronization edge %s", e)
		}
		transitions = append(transitions, automaton.Transition{From: e.From, Label: e.Label, To: e.To})
	}
	return automaton.New(states, g.Alphabet(), initial[0], accepting, transitions)
}

// Stats summarizes model size.
type Stats struct {
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
	SyncEdges int `json:"sync_edges"`
	Initial   int `json:"initial"`
	Accepting int `json:"accepting"`
}

// Stats returns node and edge counts.
func (g *GlobalModel) Stats() Stats {
	var s Stats
	s.Nodes = len(g.nodes)
	s.Edges = len(g.edges)
	for _, n := range g.nodes {
		if n.Initial {
			s.Initial++
		}
		if n.Accepting {
			s.Accepting++
		}
	}
	for _, e := range g.edges {
		if e.Sync {
			s.SyncEdges++
		}
	}
	return s
}
