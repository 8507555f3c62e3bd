package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/inference"
)

// TestHelperProcess is the fake learner. It only runs when re-executed by
// helperEngine.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("WEAVE_HELPER_MODE")
	if mode == "" {
		return
	}
	defer os.Exit(0)

	var req inference.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(3)
	}

	switch mode {
	case "chain":
		// Literal chain over the first trace, accepting at its end.
		resp := Response{States: []string{"s0"}, Initial: "s0"}
		prev := "s0"
		for i, l := range req.Traces[0] {
			next := fmt.Sprintf("s%d", i+1)
			resp.States = append(resp.States, next)
			resp.Alphabet = append(resp.Alphabet, l)
			resp.Transitions = append(resp.Transitions, automaton.Transition{From: prev, Label: l, To: next})
			prev = next
		}
		resp.Accepting = []string{prev}
		_ = json.NewEncoder(os.Stdout).Encode(resp)
	case "echo-level":
		_ = json.NewEncoder(os.Stdout).Encode(Response{Error: fmt.Sprintf("level=%d component=%s", req.GeneralizationLevel, req.Component)})
	case "garbage":
		fmt.Fprint(os.Stdout, "not json")
	case "crash":
		fmt.Fprint(os.Stderr, "segfault in learner")
		os.Exit(2)
	case "hang":
		_, _ = io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Minute)
	}
}

func helperEngine(mode string) *Engine {
	e := New(os.Args[0], "-test.run=TestHelperProcess", "--")
	e.Env = []string{"WEAVE_HELPER_MODE=" + mode}
	return e
}

func TestEngine_Chain(t *testing.T) {
	dfa, err := helperEngine("chain").Infer(context.Background(), inference.Request{
		Component: "A",
		Traces:    [][]string{{"a1", "a2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s0", "s1", "s2"}, dfa.States())
	assert.True(t, dfa.Accepts([]string{"a1", "a2"}))
	assert.False(t, dfa.Accepts([]string{"a1"}))
}

func TestEngine_PassesRequest(t *testing.T) {
	_, err := helperEngine("echo-level").Infer(context.Background(), inference.Request{
		Component:           "B",
		Traces:              [][]string{{"b1"}},
		GeneralizationLevel: 4,
	})
	require.Error(t, err)
	assert.True(t, inference.IsEngineError(err))
	assert.Contains(t, err.Error(), "level=4 component=B")
}

func TestEngine_MalformedOutput(t *testing.T) {
	_, err := helperEngine("garbage").Infer(context.Background(), inference.Request{Component: "A", Traces: [][]string{{"x"}}})
	require.Error(t, err)
	assert.True(t, inference.IsEngineError(err))
	assert.Contains(t, err.Error(), "malformed engine response")
}

func TestEngine_NonZeroExit(t *testing.T) {
	_, err := helperEngine("crash").Infer(context.Background(), inference.Request{Component: "A", Traces: [][]string{{"x"}}})
	require.Error(t, err)
	assert.True(t, inference.IsEngineError(err))
	assert.Contains(t, err.Error(), "segfault in learner")
}

func TestEngine_KilledOnDeadline(t *testing.T) {
	engine := helperEngine("hang")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := engine.Infer(ctx, inference.Request{Component: "A", Traces: [][]string{{"x"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngine_NoCommand(t *testing.T) {
	_, err := New().Infer(context.Background(), inference.Request{Component: "A"})
	assert.True(t, inference.IsEngineError(err))
}

func TestDecode(t *testing.T) {
	dfa, err := Decode("A", []byte(`{"states":["0","1"],"alphabet":["a"],"initial":"0","accepting":["1"],"transitions":[{"from":"0","label":"a","to":"1"}]}`))
	require.NoError(t, err)
	assert.True(t, dfa.Accepts([]string{"a"}))

	_, err = Decode("A", []byte(`{"states":["0"],"alphabet":[],"initial":"9","accepting":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid automaton")

	_, err = Decode("A", []byte(`{"states":["0"],"bogus":1}`))
	assert.Contains(t, err.Error(), "malformed engine response")
}
