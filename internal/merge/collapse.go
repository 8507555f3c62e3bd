package merge

import (
	"fmt"
	"sort"
	"strings"
)

// collapse merges nodes joined by a synchronization edge whose outgoing
// labelled transitions use the same label set. Every input transition is
// remapped onto the merged nodes, so the result accepts a superset of the
// input's language.
func collapse(g *GlobalModel) (*GlobalModel, error) {
	labelSets := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		seen := make(map[string]bool)
		var labels []string
		for _, j := range g.out[n.ID] {
			e := g.edges[j]
			if !e.Sync && !seen[e.Label] {
				seen[e.Label] = true
				labels = append(labels, e.Label)
			}
		}
		sort.Strings(labels)
		labelSets[i] = strings.Join(labels, "\x1f")
	}

	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// Lowest index wins so representatives follow node order.
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for _, e := range g.edges {
		if !e.Sync {
			continue
		}
		u, v := g.index[e.From], g.index[e.To]
		if u != v && labelSets[u] == labelSets[v] {
			union(u, v)
		}
	}

	// Build merged nodes in representative order.
	groupOf := make(map[int]int)
	var nodes []Node
	for i, n := range g.nodes {
		r := find(i)
		gi, ok := groupOf[r]
		if !ok {
			gi = len(nodes)
			groupOf[r] = gi
			rep := g.nodes[r]
			nodes = append(nodes, Node{ID: rep.ID, Component: rep.Component})
		}
		m := &nodes[gi]
		m.Members = append(m.Members, n.Members...)
		m.Initial = m.Initial || n.Initial
		m.Accepting = m.Accepting || n.Accepting
		if m.Component != n.Component {
			m.Component = SyncTag
		}
	}

	idOf := func(id string) string {
		return nodes[groupOf[find(g.index[id])]].ID
	}

	var edges []Edge
	pos := make(map[edgeKey]int)
	for _, e := range g.edges {
		ne := Edge{From: idOf(e.From), To: idOf(e.To), Label: e.Label, Sync: e.Sync}
		if ne.Sync && ne.From == ne.To {
			continue
		}
		if i, ok := pos[ne.key()]; ok {
			edges[i].Origins = append(edges[i].Origins, e.Origins...)
			continue
		}
		ne.Origins = append([]Boundary(nil), e.Origins...)
		pos[ne.key()] = len(edges)
		edges = append(edges, ne)
	}

	out, err := newGlobalModel(nodes, edges)
	if err != nil {
		return nil, &InvariantViolationError{Code: ErrCodeInvariantViolation, Message: err.Error()}
	}

	if err := checkCollapse(g, out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkCollapse verifies out against in using only the Members of out's
// nodes: every input node belongs to exactly one merged node that keeps its
// initial and accepting flags, and every input transition survives between
// the merged nodes of its endpoints.
func checkCollapse(in, out *GlobalModel) error {
	violation := func(msg string, e *Edge) error {
		return &InvariantViolationError{Code: ErrCodeInvariantViolation, Message: msg, Edge: e}
	}

	owner := make(map[string]Node, len(in.nodes))
	for _, n := range out.nodes {
		for _, m := range n.Members {
			if prev, dup := owner[m]; dup {
				return violation(fmt.Sprintf("collapse put %s in both %s and %s", m, prev.ID, n.ID), nil)
			}
			owner[m] = n
		}
	}
	for _, n := range in.nodes {
		for _, m := range n.Members {
			o, ok := owner[m]
			if !ok {
				return violation(fmt.Sprintf("collapse lost node %s", m), nil)
			}
			if (n.Initial && !o.Initial) || (n.Accepting && !o.Accepting) {
				return violation(fmt.Sprintf("collapse changed the flags of node %s", m), nil)
			}
		}
	}

	for _, e := range in.edges {
		from, to := owner[e.From].ID, owner[e.To].ID
		if e.Sync && from == to {
			continue
		}
		found := false
		for _, j := range out.out[from] {
			oe := out.edges[j]
			if oe.To == to && oe.Label == e.Label && oe.Sync == e.Sync {
				found = true
				break
			}
		}
		if !found {
			lost := e
			return violation("collapse dropped a transition", &lost)
		}
	}
	return nil
}
