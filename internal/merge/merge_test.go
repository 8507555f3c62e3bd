package merge

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/inference/ktails"
	"github.com/roach88/weave/internal/partition"
	"github.com/roach88/weave/internal/testutil"
)

// inferAll runs the k-tails adapter on every partition except those in skip.
func inferAll(t *testing.T, res *partition.Result, level int, skip ...string) map[string]*inference.Model {
	t.Helper()
	skipped := make(map[string]bool)
	for _, s := range skip {
		skipped[s] = true
	}
	a := inference.NewAdapter(ktails.New())
	models := make(map[string]*inference.Model)
	for _, c := range res.Components {
		if skipped[c] {
			continue
		}
		m, err := a.Infer(context.Background(), res.Partitions[c], inference.Options{GeneralizationLevel: level})
		require.NoError(t, err)
		models[c] = m
	}
	return models
}

func split(t *testing.T, l *eventlog.GlobalLog) *partition.Result {
	t.Helper()
	res, err := partition.Split(l)
	require.NoError(t, err)
	return res
}

func TestMerge_ExampleScenario(t *testing.T) {
	l := testutil.ExampleLog(t)
	res := split(t, l)
	g, unresolved, err := Merge(inferAll(t, res, 0), res.Witness, Options{})
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	sync := g.SyncEdges()
	require.Len(t, sync, 2)
	assert.Equal(t, "A:2", sync[0].From)
	assert.Equal(t, "B:0", sync[0].To)
	assert.Equal(t, []Boundary{{TraceID: "t1", FromSeq: 2, ToSeq: 3}}, sync[0].Origins)
	assert.Equal(t, "A:1", sync[1].From)
	assert.Equal(t, "B:0", sync[1].To)
	assert.Equal(t, []Boundary{{TraceID: "t2", FromSeq: 4, ToSeq: 5}}, sync[1].Origins)

	assert.Equal(t, []string{"A:0"}, g.Initial())
	for _, id := range []string{"B:1", "B:2"} {
		n, ok := g.Node(id)
		require.True(t, ok)
		assert.True(t, n.Accepting, id)
	}
	n, _ := g.Node("A:2")
	assert.False(t, n.Accepting)

	assert.Equal(t, []string{"a1", "a2", "b1", "b2"}, g.Alphabet())
	assert.Equal(t, []string{"A", "B"}, g.Components())
	assert.Equal(t, Stats{Nodes: 6, Edges: 6, SyncEdges: 2, Initial: 1, Accepting: 2}, g.Stats())

	for _, tr := range l.Traces() {
		assert.True(t, g.Accepts(tr.Labels()), tr.ID)
	}
	assert.False(t, g.Accepts([]string{"a1"}))
	assert.False(t, g.Accepts([]string{"b1", "a1"}))
}

func TestMerge_SyncEdgesDeduplicated(t *testing.T) {
	l := testutil.NewLogBuilder().
		Trace("t1", "A:a", "B:b").
		Trace("t2", "A:a", "B:b").
		Build(t)
	res := split(t, l)
	g, _, err := Merge(inferAll(t, res, 0), res.Witness, Options{})
	require.NoError(t, err)

	sync := g.SyncEdges()
	require.Len(t, sync, 1)
	assert.Equal(t, []Boundary{
		{TraceID: "t1", FromSeq: 1, ToSeq: 2},
		{TraceID: "t2", FromSeq: 3, ToSeq: 4},
	}, sync[0].Origins)
}

func TestMerge_SingleComponentIsomorphic(t *testing.T) {
	l := testutil.NewLogBuilder().
		Trace("t1", "A:open", "A:read", "A:read", "A:close").
		Trace("t2", "A:open", "A:close").
		Trace("t3", "A:open", "A:read", "A:close").
		Build(t)

	for level := inference.MinGeneralization; level <= inference.MaxGeneralization; level++ {
		t.Run(fmt.Sprintf("level%d", level), func(t *testing.T) {
			res := split(t, l)
			g, unresolved, err := Merge(inferAll(t, res, level), res.Witness, Options{})
			require.NoError(t, err)
			assert.Empty(t, unresolved)
			assert.Empty(t, g.SyncEdges())

			var traces [][]string
			for _, tr := range l.Traces() {
				traces = append(traces, tr.Labels())
			}
			direct, err := ktails.New().Infer(context.Background(), inference.Request{Component: "A", Traces: traces, GeneralizationLevel: level})
			require.NoError(t, err)

			merged, err := g.AsDFA()
			require.NoError(t, err)
			assert.True(t, automaton.Isomorphic(direct, merged))
		})
	}
}

func TestMerge_PartialFailure(t *testing.T) {
	l := testutil.NewLogBuilder().
		Trace("t1", "A:a1", "B:b1", "C:c1").
		Trace("t2", "A:a2", "C:c1", "B:b2").
		Build(t)
	res := split(t, l)
	models := inferAll(t, res, 2, "C")
	require.Len(t, models, 2)

	g, unresolved, err := Merge(models, res.Witness, Options{})
	require.NoError(t, err)

	touching := 0
	for _, p := range res.Witness.Pairs {
		if p.Touches("C") {
			touching++
		}
	}
	require.Equal(t, 3, touching)
	require.Len(t, unresolved, touching)
	for _, ube := range unresolved {
		assert.Equal(t, "C", ube.Component)
		assert.True(t, IsUnresolvedBoundary(ube))
	}
	assert.Equal(t, "t1", unresolved[0].TraceID)
	assert.Equal(t, int64(2), unresolved[0].FromSeq)
	assert.Equal(t, int64(3), unresolved[0].ToSeq)

	assert.Equal(t, []string{"A", "B"}, g.Components())
	assert.Len(t, g.SyncEdges(), 1)
}

func TestMerge_FailFast(t *testing.T) {
	l := testutil.NewLogBuilder().
		Trace("t1", "A:a1", "B:b1", "C:c1").
		Build(t)
	res := split(t, l)

	g, unresolved, err := Merge(inferAll(t, res, 2, "C"), res.Witness, Options{FailFast: true})
	require.Error(t, err)
	assert.Nil(t, g)
	assert.Nil(t, unresolved)
	assert.True(t, IsUnresolvedBoundary(err))
	assert.Contains(t, err.Error(), "component=C")
}

func TestMerge_Empty(t *testing.T) {
	g, unresolved, err := Merge(nil, partition.Witness{}, Options{})
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.Empty(t, g.Nodes())
	assert.False(t, g.Accepts(nil))
}

func TestMerge_Deterministic(t *testing.T) {
	l := testutil.ExampleLog(t)
	res := split(t, l)
	g1, _, err := Merge(inferAll(t, res, 2), res.Witness, Options{Collapse: true})
	require.NoError(t, err)
	g2, _, err := Merge(inferAll(t, res, 2), res.Witness, Options{Collapse: true})
	require.NoError(t, err)
	assert.Equal(t, g1.Graph(), g2.Graph())
}

func TestMerge_Collapse(t *testing.T) {
	// A's state after x and B's initial state both only emit y.
	l := testutil.NewLogBuilder().
		Trace("t1", "A:x", "B:y").
		Trace("t2", "A:x", "A:y").
		Build(t)
	res := split(t, l)
	models := inferAll(t, res, 0)

	plain, _, err := Merge(models, res.Witness, Options{})
	require.NoError(t, err)
	require.Len(t, plain.SyncEdges(), 1)

	g, _, err := Merge(models, res.Witness, Options{Collapse: true})
	require.NoError(t, err)

	assert.Empty(t, g.SyncEdges())
	assert.Equal(t, plain.Stats().Nodes-1, g.Stats().Nodes)

	n, ok := g.Node("A:1")
	require.True(t, ok)
	assert.Equal(t, SyncTag, n.Component)
	assert.Equal(t, []string{"A:1", "B:0"}, n.Members)
	_, ok = g.Node("B:0")
	assert.False(t, ok)

	for _, tr := range l.Traces() {
		assert.True(t, g.Accepts(tr.Labels()), tr.ID)
	}
}

func TestMerge_CollapseKeepsDistinctLabelSets(t *testing.T) {
	res := split(t, testutil.ExampleLog(t))
	plain, _, err := Merge(inferAll(t, res, 0), res.Witness, Options{})
	require.NoError(t, err)
	g, _, err := Merge(inferAll(t, res, 0), res.Witness, Options{Collapse: true})
	require.NoError(t, err)
	assert.Equal(t, plain.Graph(), g.Graph())
}

func TestFromGraph_RoundTrip(t *testing.T) {
	l := testutil.ExampleLog(t)
	res := split(t, l)
	g, _, err := Merge(inferAll(t, res, 0), res.Witness, Options{})
	require.NoError(t, err)

	back, err := FromGraph(g.Graph())
	require.NoError(t, err)
	assert.Equal(t, g.Graph(), back.Graph())
	for _, tr := range l.Traces() {
		assert.True(t, back.Accepts(tr.Labels()))
	}

	bad := g.Graph()
	bad.Edges = append(bad.Edges, GraphEdge{From: "A:0", To: "Z:9", Label: "x"})
	_, err = FromGraph(bad)
	assert.Error(t, err)
}

func TestReplay_StuckPosition(t *testing.T) {
	res := split(t, testutil.ExampleLog(t))
	g, _, err := Merge(inferAll(t, res, 0), res.Witness, Options{})
	require.NoError(t, err)

	consumed, ok := g.Replay([]string{"a1", "a2", "b2"})
	assert.False(t, ok)
	assert.Equal(t, 2, consumed)
}

func randomLog(t *testing.T, seed int64) *eventlog.GlobalLog {
	r := rand.New(rand.NewSource(seed))
	comps := []string{"A", "B", "C", "D"}
	b := testutil.NewLogBuilder()
	traces := 1 + r.Intn(6)
	for i := 0; i < traces; i++ {
		n := 1 + r.Intn(10)
		for j := 0; j < n; j++ {
			c := comps[r.Intn(len(comps))]
			b.Emit(fmt.Sprintf("t%d", i), c, fmt.Sprintf("%s%d", c, r.Intn(3)))
		}
	}
	return b.Build(t)
}

func TestMerge_SoundnessRandomized(t *testing.T) {
	for seed := int64(1); seed <= 40; seed++ {
		l := randomLog(t, seed)
		res := split(t, l)
		for _, level := range []int{0, 2, 5} {
			for _, collapse := range []bool{false, true} {
				g, unresolved, err := Merge(inferAll(t, res, level), res.Witness, Options{Collapse: collapse})
				require.NoError(t, err)
				require.Empty(t, unresolved)
				for _, tr := range l.Traces() {
					assert.True(t, g.Accepts(tr.Labels()), "seed=%d level=%d collapse=%v trace=%s", seed, level, collapse, tr.ID)
				}
			}
		}
	}
}

func TestNodeID_EscapesSeparator(t *testing.T) {
	assert.Equal(t, "A:0", NodeID("A", "0"))
	assert.Equal(t, `a:b\:0`, NodeID("a", "b:0"))
	assert.Equal(t, `a\:b:0`, NodeID("a:b", "0"))
	assert.Equal(t, `a\\:0`, NodeID(`a\`, "0"))
	assert.NotEqual(t, NodeID(`a\`, ":0"), NodeID(`a\:`, "0"))
}

func TestMerge_ColonInComponentAndStateNames(t *testing.T) {
	l := testutil.NewLogBuilder().
		Emit("t1", "a", "x").
		Emit("t1", "a:b", "y").
		Build(t)
	res := split(t, l)

	kt := ktails.New()
	engine := inference.EngineFunc(func(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
		if req.Component == "a" {
			return automaton.New([]string{"s", "b:0"}, []string{"x"}, "s", []string{"b:0"},
				[]automaton.Transition{{From: "s", Label: "x", To: "b:0"}})
		}
		return kt.Infer(ctx, req)
	})
	a := inference.NewAdapter(engine)
	models := make(map[string]*inference.Model)
	for _, c := range res.Components {
		m, err := a.Infer(context.Background(), res.Partitions[c], inference.Options{})
		require.NoError(t, err)
		models[c] = m
	}

	g, unresolved, err := Merge(models, res.Witness, Options{})
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.Equal(t, 4, g.Stats().Nodes)

	sync := g.SyncEdges()
	require.Len(t, sync, 1)
	assert.Equal(t, NodeID("a", "b:0"), sync[0].From)
	assert.Equal(t, NodeID("a:b", "0"), sync[0].To)
	assert.True(t, g.Accepts([]string{"x", "y"}))

	back, err := FromGraph(g.Graph())
	require.NoError(t, err)
	assert.Equal(t, g.Graph(), back.Graph())
}

func TestCheckCollapse_DetectsDamage(t *testing.T) {
	in, err := newGlobalModel(
		[]Node{
			{ID: "A:0", Component: "A", Members: []string{"A:0"}, Initial: true},
			{ID: "A:1", Component: "A", Members: []string{"A:1"}},
			{ID: "B:0", Component: "B", Members: []string{"B:0"}},
			{ID: "B:1", Component: "B", Members: []string{"B:1"}, Accepting: true},
		},
		[]Edge{
			{From: "A:0", To: "A:1", Label: "x"},
			{From: "A:1", To: "B:0", Sync: true},
			{From: "B:0", To: "B:1", Label: "y"},
		})
	require.NoError(t, err)

	merged := []Node{
		{ID: "A:0", Component: "A", Members: []string{"A:0"}, Initial: true},
		{ID: "A:1", Component: SyncTag, Members: []string{"A:1", "B:0"}},
		{ID: "B:1", Component: "B", Members: []string{"B:1"}, Accepting: true},
	}

	good, err := newGlobalModel(merged, []Edge{
		{From: "A:0", To: "A:1", Label: "x"},
		{From: "A:1", To: "B:1", Label: "y"},
	})
	require.NoError(t, err)
	assert.NoError(t, checkCollapse(in, good))

	lostEdge, err := newGlobalModel(merged, []Edge{{From: "A:0", To: "A:1", Label: "x"}})
	require.NoError(t, err)
	err = checkCollapse(in, lostEdge)
	require.Error(t, err)
	assert.True(t, IsInvariantViolation(err))
	assert.Contains(t, err.Error(), "dropped a transition")

	lostNode, err := newGlobalModel(merged[:2], []Edge{{From: "A:0", To: "A:1", Label: "x"}})
	require.NoError(t, err)
	err = checkCollapse(in, lostNode)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lost node B:1")

	unflagged := append([]Node(nil), merged...)
	unflagged[2] = Node{ID: "B:1", Component: "B", Members: []string{"B:1"}}
	noAccept, err := newGlobalModel(unflagged, []Edge{
		{From: "A:0", To: "A:1", Label: "x"},
		{From: "A:1", To: "B:1", Label: "y"},
	})
	require.NoError(t, err)
	err = checkCollapse(in, noAccept)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flags of node B:1")
}
