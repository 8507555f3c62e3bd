package merge

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/partition"
)

// Options controls a merge.
type Options struct {
	// FailFast aborts on the first unresolved boundary instead of skipping it.
	FailFast bool

	// Collapse enables post-merge collapsing of synchronization-linked nodes.
	Collapse bool

	Logger *slog.Logger
}

// idEscaper escapes the separator so that ids stay unique when component
// ids or engine state names contain ':'.
var idEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// NodeID returns the global id of a component-local state, component and
// local state joined by ':'. A ':' or '\' inside either part is escaped with
// '\', so distinct (component, local) pairs never share an id.
func NodeID(component, local string) string {
	return idEscaper.Replace(component) + ":" + idEscaper.Replace(local)
}

// Merge composes per-component models into one GlobalModel.
//
// Component states are tagged with their component id, every resolvable
// witness pair becomes a synchronization edge from the state after the pair's
// From event to the state before its To event, and the initial and accepting
// nodes are taken from the components that start and end each trace.
//
// Witness pairs are consumed in witness order, so the output depends only on
// models and witness. Pairs touching a component absent from models are
// returned as UnresolvedBoundaryErrors and skipped, or abort the merge when
// opts.FailFast is set.
func Merge(models map[string]*inference.Model, witness partition.Witness, opts Options) (*GlobalModel, []*UnresolvedBoundaryError, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	components := make([]string, 0, len(models))
	for c := range models {
		components = append(components, c)
	}
	eventlog.SortNatural(components)

	// Step 1: tag every component state.
	var nodes []Node
	var edges []Edge
	for _, c := range components {
		dfa := models[c].DFA
		states := append([]string(nil), dfa.States()...)
		eventlog.SortNatural(states)
		for _, s := range states {
			id := NodeID(c, s)
			nodes = append(nodes, Node{ID: id, Component: c, Members: []string{id}})
		}
		for _, t := range dfa.Transitions() {
			edges = append(edges, Edge{From: NodeID(c, t.From), To: NodeID(c, t.To), Label: t.Label})
		}
	}
	componentEdges := len(edges)

	// Step 2: stitch boundaries.
	var unresolved []*UnresolvedBoundaryError
	syncIndex := make(map[edgeKey]int)
	for _, p := range witness.Pairs {
		from, to, ube := resolve(models, p)
		if ube != nil {
			if opts.FailFast {
				return nil, nil, ube
			}
			logger.Debug("boundary skipped", "pair", p.String(), "component", ube.Component)
			unresolved = append(unresolved, ube)
			continue
		}
		e := Edge{From: from, To: to, Sync: true}
		origin := Boundary{TraceID: p.From.TraceID, FromSeq: p.From.Seq, ToSeq: p.To.Seq}
		if i, ok := syncIndex[e.key()]; ok {
			edges[i].Origins = append(edges[i].Origins, origin)
			continue
		}
		e.Origins = []Boundary{origin}
		syncIndex[e.key()] = len(edges)
		edges = append(edges, e)
	}

	// Step 3: initial and accepting nodes.
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	for _, head := range witness.Heads {
		m, ok := models[head.ComponentID]
		if !ok {
			continue
		}
		nodes[index[NodeID(head.ComponentID, m.DFA.Initial())]].Initial = true
	}
	for _, tail := range witness.Tails {
		m, ok := models[tail.ComponentID]
		if !ok {
			continue
		}
		for _, s := range m.DFA.Accepting() {
			nodes[index[NodeID(tail.ComponentID, s)]].Accepting = true
		}
	}

	g, err := newGlobalModel(nodes, edges)
	if err != nil {
		return nil, nil, &InvariantViolationError{Code: ErrCodeInvariantViolation, Message: err.Error()}
	}

	// Step 4: optional collapse.
	if opts.Collapse {
		before := g.Stats().Nodes
		g, err = collapse(g)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("collapsed model", "nodes_before", before, "nodes_after", g.Stats().Nodes)
	}

	logger.Debug("merged model",
		"components", len(components),
		"component_edges", componentEdges,
		"sync_edges", len(edges)-componentEdges,
		"unresolved", len(unresolved),
	)
	return g, unresolved, nil
}

// resolve locates the two endpoints of a witness pair.
func resolve(models map[string]*inference.Model, p partition.Pair) (from, to string, ube *UnresolvedBoundaryError) {
	fail := func(component, msg string) (string, string, *UnresolvedBoundaryError) {
		return "", "", &UnresolvedBoundaryError{
			Code:      ErrCodeUnresolvedBoundary,
			TraceID:   p.From.TraceID,
			FromSeq:   p.From.Seq,
			ToSeq:     p.To.Seq,
			Component: component,
			Message:   msg,
		}
	}

	fm, ok := models[p.From.ComponentID]
	if !ok {
		return fail(p.From.ComponentID, "no model for component")
	}
	tm, ok := models[p.To.ComponentID]
	if !ok {
		return fail(p.To.ComponentID, "no model for component")
	}
	fp, ok := fm.Position(p.From.Seq)
	if !ok {
		return fail(p.From.ComponentID, fmt.Sprintf("event %d not replayed by model", p.From.Seq))
	}
	tp, ok := tm.Position(p.To.Seq)
	if !ok {
		return fail(p.To.ComponentID, fmt.Sprintf("event %d not replayed by model", p.To.Seq))
	}
	return NodeID(p.From.ComponentID, fp.After), NodeID(p.To.ComponentID, tp.Before), nil
}
