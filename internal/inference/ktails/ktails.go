// Package ktails is the built-in inference engine.
//
// It builds a prefix-tree acceptor from the submitted traces, merges states
// whose k-tails coincide, and determinizes the quotient. Merging only ever adds
// behavior, so every submitted trace stays accepted.
package ktails

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/inference"
)

const (
	// endToken marks a tail that stops in an accepting state.
	endToken = "\x00"

	// tokenSep joins the labels of one tail.
	tokenSep = "\x1e"

	// tailSep joins the tails of one state into its class key.
	tailSep = "\x1f"

	// cancelCheckEvery is how many states are processed between ctx checks.
	cancelCheckEvery = 1024
)

// Horizon maps a generalization level to the k-tails horizon.
// Level 0 (and below) disables merging and returns -1. Levels above the
// maximum clamp to horizon 0.
func Horizon(level int) int {
	if level <= 0 {
		return -1
	}
	k := inference.MaxGeneralization - level
	if k < 0 {
		k = 0
	}
	return k
}

// Engine is the k-tails learner. The zero value is ready to use.
type Engine struct{}

// New returns a k-tails engine.
func New() *Engine {
	return &Engine{}
}

// Name implements inference.Engine.
func (e *Engine) Name() string {
	return "ktails"
}

// Infer implements inference.Engine.
func (e *Engine) Infer(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
	tree := buildPrefixTree(req.Traces)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := Horizon(req.GeneralizationLevel)
	class := make([]int, tree.size())
	if k < 0 {
		for i := range class {
			class[i] = i
		}
	} else {
		var err error
		class, err = tree.classes(ctx, k)
		if err != nil {
			return nil, err
		}
	}

	nClasses := 0
	for _, c := range class {
		if c+1 > nClasses {
			nClasses = c + 1
		}
	}
	nfa := automaton.NewNFA(nClasses, class[0])
	for n := 0; n < tree.size(); n++ {
		if tree.accepting[n] {
			nfa.SetAccepting(class[n])
		}
		for label, child := range tree.children[n] {
			nfa.AddEdge(class[n], label, class[child])
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nfa.Determinize(), nil
}

// prefixTree is a trie over traces; node 0 is the root and nodes are numbered
// in insertion order.
type prefixTree struct {
	children  []map[string]int
	accepting []bool
}

func buildPrefixTree(traces [][]string) *prefixTree {
	t := &prefixTree{
		children:  []map[string]int{{}},
		accepting: []bool{false},
	}
	for _, trace := range traces {
		cur := 0
		for _, label := range trace {
			next, ok := t.children[cur][label]
			if !ok {
				next = len(t.children)
				t.children = append(t.children, map[string]int{})
				t.accepting = append(t.accepting, false)
				t.children[cur][label] = next
			}
			cur = next
		}
		t.accepting[cur] = true
	}
	return t
}

func (t *prefixTree) size() int {
	return len(t.children)
}

// classes assigns every node to a class of nodes sharing the same k-tails.
// Class ids are dense and ordered by each class's smallest node.
func (t *prefixTree) classes(ctx context.Context, k int) ([]int, error) {
	memo := make([]map[int][]string, k+1)
	for i := range memo {
		memo[i] = make(map[int][]string)
	}

	ids := make(map[string]int)
	class := make([]int, t.size())
	for n := 0; n < t.size(); n++ {
		if n%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		key := strings.Join(t.tails(n, k, memo), tailSep)
		id, ok := ids[key]
		if !ok {
			id = len(ids)
			ids[key] = id
		}
		class[n] = id
	}
	return class, nil
}

// tails returns the sorted k-tails of node n: label sequences of length up to
// k leaving n, with endToken appended where a sequence stops in an accepting node.
func (t *prefixTree) tails(n, k int, memo []map[int][]string) []string {
	if cached, ok := memo[k][n]; ok {
		return cached
	}
	set := make(map[string]bool)
	if t.accepting[n] {
		set[endToken] = true
	}
	if k == 0 {
		set[""] = true
	} else {
		for label, child := range t.children[n] {
			for _, w := range t.tails(child, k-1, memo) {
				if w == "" {
					set[label] = true
				} else {
					set[label+tokenSep+w] = true
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	memo[k][n] = out
	return out
}
