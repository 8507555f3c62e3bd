package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/inference/ktails"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/scheduler"
	"github.com/roach88/weave/internal/testutil"
)

func testConfig(level int, policy config.Policy) config.Config {
	c := config.Default()
	c.GeneralizationLevel = level
	c.FailurePolicy = policy
	c.WorkerBudget = 2
	return c
}

func newPipeline(t *testing.T, cfg config.Config, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithIDGenerator(testutil.NewFixedRunIDs("run-1", "run-2"))}, opts...)
	p, err := New(cfg, opts...)
	require.NoError(t, err)
	return p
}

func threeComponentLog(t *testing.T) *eventlog.GlobalLog {
	return testutil.NewLogBuilder().
		Trace("t1", "A:a1", "B:b1", "C:c1").
		Trace("t2", "A:a2", "C:c1", "B:b2").
		Trace("t3", "A:a1", "B:b1").
		Build(t)
}

func failingOn(component string) inference.Engine {
	kt := ktails.New()
	return inference.EngineFunc(func(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
		if req.Component == component {
			return nil, errors.New("learner crashed")
		}
		return kt.Infer(ctx, req)
	})
}

func TestInfer_ExampleScenario(t *testing.T) {
	p := newPipeline(t, testConfig(0, config.FailFast))
	res, err := p.Infer(context.Background(), testutil.ExampleLog(t))
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "ktails", res.Engine)
	assert.Empty(t, res.Errors)
	assert.False(t, res.Partial)
	assert.Len(t, res.Model.SyncEdges(), 2)
	for _, e := range res.Model.SyncEdges() {
		assert.True(t, e.Sync)
	}

	assert.Equal(t, 2, res.Stats.Components)
	assert.Equal(t, 2, res.Stats.Traces)
	assert.Equal(t, 6, res.Stats.Events)
	assert.Equal(t, 2, res.Stats.WitnessPairs)
	assert.Equal(t, 2, res.Stats.Verified)
	assert.Equal(t, 2, res.Stats.Accepted)
	assert.InDelta(t, 0.5, res.Stats.ComponentSetDiversity, 1e-9)
	assert.Len(t, res.LogHash, 64)
	assert.Len(t, res.ModelHash, 64)
	for _, s := range []Stage{StagePartition, StageInfer, StageMerge, StageVerify} {
		assert.Contains(t, res.Stats.Durations, s)
	}
}

func TestInfer_DeterministicAcrossWorkerBudgets(t *testing.T) {
	l := testutil.NewLogBuilder().
		Trace("t1", "A:a1", "B:b1", "C:c1", "A:a2").
		Trace("t2", "A:a1", "C:c2", "B:b1", "A:a2").
		Trace("t3", "D:d1", "A:a1", "B:b1").
		Build(t)

	var hashes []string
	for _, workers := range []int{1, 2, 8} {
		cfg := testConfig(2, config.FailFast)
		cfg.WorkerBudget = workers
		cfg.PostMergeCollapse = true
		res, err := newPipeline(t, cfg).Infer(context.Background(), l)
		require.NoError(t, err)
		hashes = append(hashes, res.ModelHash)
	}
	assert.Equal(t, hashes[0], hashes[1])
	assert.Equal(t, hashes[0], hashes[2])
}

func TestInfer_FailFastReportsFirstError(t *testing.T) {
	p := newPipeline(t, testConfig(2, config.FailFast), WithEngine(failingOn("B")))
	res, err := p.Infer(context.Background(), threeComponentLog(t))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, inference.IsEngineError(err))
	comp, _ := inference.ComponentOf(err)
	assert.Equal(t, "B", comp)
}

func TestInfer_BestEffortPartialFailure(t *testing.T) {
	p := newPipeline(t, testConfig(2, config.BestEffort), WithEngine(failingOn("C")))
	res, err := p.Infer(context.Background(), threeComponentLog(t))
	require.NoError(t, err)

	assert.Len(t, res.Models, 2)
	assert.Equal(t, 1, res.Stats.FailedComponents)
	assert.Equal(t, []string{"A", "B"}, res.Model.Components())

	require.Len(t, res.Errors, 4)
	assert.True(t, inference.IsEngineError(res.Errors[0]))
	for _, e := range res.Errors[1:] {
		assert.True(t, merge.IsUnresolvedBoundary(e))
		assert.Equal(t, CategoryBoundary, Classify(e).Category)
		assert.Equal(t, "C", Classify(e).Component)
	}

	// Only t3 avoids C.
	assert.Equal(t, 1, res.Stats.Verified)
	assert.Equal(t, 1, res.Stats.Accepted)
	assert.True(t, res.Model.Accepts([]string{"a1", "b1"}))
}

func TestInfer_TimeoutRecordedPerComponent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	kt := ktails.New()
	engine := inference.EngineFunc(func(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
		if req.Component == "B" {
			<-release
			return nil, nil
		}
		return kt.Infer(ctx, req)
	})

	cfg := testConfig(2, config.BestEffort)
	cfg.PerComponentTimeout = 20 * time.Millisecond
	res, err := newPipeline(t, cfg, WithEngine(engine)).Infer(context.Background(), threeComponentLog(t))
	require.NoError(t, err)

	require.NotEmpty(t, res.Errors)
	assert.True(t, inference.IsTimeout(res.Errors[0]))
	assert.Equal(t, CategoryTimeout, Classify(res.Errors[0]).Category)
	assert.Contains(t, res.Models, "A")
	assert.Contains(t, res.Models, "C")
}

func TestInfer_CancelBestEffortReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kt := ktails.New()
	engine := inference.EngineFunc(func(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
		if req.Component == "A" {
			return kt.Infer(ctx, req)
		}
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testConfig(2, config.BestEffort)
	cfg.WorkerBudget = 1
	res, err := newPipeline(t, cfg, WithEngine(engine)).Infer(ctx, threeComponentLog(t))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"A"}, res.Model.Components())
	for _, e := range res.Errors {
		cat := Classify(e).Category
		assert.Contains(t, []Category{CategoryCanceled, CategoryBoundary}, cat)
	}
}

func TestInfer_CancelFailFastDiscards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newPipeline(t, testConfig(2, config.FailFast)).Infer(ctx, threeComponentLog(t))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled) || inference.IsCanceled(err))
}

func TestInfer_EmptyLog(t *testing.T) {
	res, err := newPipeline(t, testConfig(2, config.FailFast)).Infer(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Model.Nodes())
	assert.Zero(t, res.Stats.Traces)
}

func TestInfer_Hooks(t *testing.T) {
	var mu sync.Mutex
	var started, finished []Stage
	var components []string

	p := newPipeline(t, testConfig(1, config.FailFast), WithHooks(Hooks{
		StageStarted:  func(s Stage) { started = append(started, s) },
		StageFinished: func(s Stage, _ time.Duration) { finished = append(finished, s) },
		ComponentDone: func(pr scheduler.Progress) {
			mu.Lock()
			defer mu.Unlock()
			components = append(components, pr.Component)
		},
	}))
	_, err := p.Infer(context.Background(), testutil.ExampleLog(t))
	require.NoError(t, err)

	want := []Stage{StagePartition, StageInfer, StageMerge, StageVerify}
	assert.Equal(t, want, started)
	assert.Equal(t, want, finished)
	assert.ElementsMatch(t, []string{"A", "B"}, components)
}

func TestInfer_SoundnessAtEveryLevel(t *testing.T) {
	l := testutil.NewLogBuilder().
		Trace("s1", "client:connect", "server:accept", "client:send", "server:recv", "client:close").
		Trace("s2", "client:connect", "server:reject").
		Trace("s3", "client:connect", "server:accept", "client:send", "server:recv", "client:send", "server:recv", "client:close").
		Build(t)
	for level := 0; level <= 5; level++ {
		for _, collapse := range []bool{false, true} {
			t.Run(fmt.Sprintf("level%d_collapse%v", level, collapse), func(t *testing.T) {
				cfg := testConfig(level, config.FailFast)
				cfg.PostMergeCollapse = collapse
				res, err := newPipeline(t, cfg).Infer(context.Background(), l)
				require.NoError(t, err)
				assert.Equal(t, 3, res.Stats.Accepted)
			})
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.GeneralizationLevel = 9
	_, err := New(cfg)
	assert.True(t, config.IsInvalidConfig(err))
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(config.Default())
	require.NoError(t, err)
	assert.Equal(t, "ktails", e.Name())

	cfg := config.Default()
	cfg.Engine = config.EngineCommand
	cfg.EngineCommand = []string{"learner"}
	e, err = NewEngine(cfg)
	require.NoError(t, err)
	assert.Equal(t, "command", e.Name())

	cfg.Engine = "mint"
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
