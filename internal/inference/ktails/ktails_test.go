package ktails

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/inference"
)

func infer(t *testing.T, level int, traces ...[]string) *automaton.DFA {
	t.Helper()
	d, err := New().Infer(context.Background(), inference.Request{
		Component:           "A",
		Traces:              traces,
		GeneralizationLevel: level,
	})
	require.NoError(t, err)
	return d
}

func TestHorizon(t *testing.T) {
	assert.Equal(t, -1, Horizon(0))
	assert.Equal(t, -1, Horizon(-3))
	assert.Equal(t, 4, Horizon(1))
	assert.Equal(t, 2, Horizon(3))
	assert.Equal(t, 0, Horizon(5))
	assert.Equal(t, 0, Horizon(9))
}

func TestInfer_LevelZeroIsPrefixTree(t *testing.T) {
	d := infer(t, 0, []string{"a1", "a2"}, []string{"a1"})

	assert.Equal(t, []string{"0", "1", "2"}, d.States())
	assert.Equal(t, []string{"1", "2"}, d.Accepting())
	assert.Equal(t, []automaton.Transition{
		{From: "0", Label: "a1", To: "1"},
		{From: "1", Label: "a2", To: "2"},
	}, d.Transitions())
	assert.False(t, d.Accepts([]string{"a1", "a2", "a2"}))
}

func TestInfer_HigherLevelGeneralizes(t *testing.T) {
	traces := [][]string{{"a", "b", "a", "b"}, {"a", "b"}}

	literal := infer(t, 0, traces...)
	k1 := infer(t, 4, traces...)
	k0 := infer(t, 5, traces...)

	assert.Len(t, literal.States(), 5)
	assert.Len(t, k1.States(), 3)
	assert.Len(t, k0.States(), 2)

	for _, d := range []*automaton.DFA{literal, k1, k0} {
		for _, tr := range traces {
			assert.True(t, d.Accepts(tr))
		}
	}

	long := []string{"a", "b", "a", "b", "a", "b"}
	assert.False(t, literal.Accepts(long))
	assert.True(t, k1.Accepts(long))
	assert.False(t, k1.Accepts([]string{"a"}))
	assert.True(t, k0.Accepts([]string{"a", "a", "b"}))
}

func TestInfer_AcceptsAllTracesAtEveryLevel(t *testing.T) {
	traces := [][]string{
		{"open", "read", "read", "close"},
		{"open", "write", "close"},
		{"open", "close"},
		{"open", "read", "write", "read", "close"},
	}
	for level := inference.MinGeneralization; level <= inference.MaxGeneralization; level++ {
		d := infer(t, level, traces...)
		for _, tr := range traces {
			assert.True(t, d.Accepts(tr), "level %d trace %v", level, tr)
		}
	}
}

func TestInfer_Deterministic(t *testing.T) {
	traces := [][]string{{"x", "y"}, {"y", "x"}, {"x", "x", "y"}}
	first := infer(t, 3, traces...)
	second := infer(t, 3, traces...)
	assert.Equal(t, first.Transitions(), second.Transitions())
	assert.Equal(t, first.Accepting(), second.Accepting())
}

func TestInfer_EmptyTrace(t *testing.T) {
	d := infer(t, 2, []string{})
	assert.True(t, d.Accepts(nil))
}

func TestInfer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Infer(ctx, inference.Request{Traces: [][]string{{"a"}}, GeneralizationLevel: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Name(t *testing.T) {
	var e inference.Engine = New()
	assert.Equal(t, "ktails", e.Name())
}
