package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/inference/ktails"
	"github.com/roach88/weave/internal/partition"
	"github.com/roach88/weave/internal/testutil"
)

func splitLog(t *testing.T, b *testutil.LogBuilder) map[string]*partition.Partition {
	t.Helper()
	res, err := partition.Split(b.Build(t))
	require.NoError(t, err)
	return res.Partitions
}

func threeComponents(t *testing.T) map[string]*partition.Partition {
	return splitLog(t, testutil.NewLogBuilder().
		Trace("t1", "A:a1", "B:b1", "C:c1").
		Trace("t2", "A:a2", "C:c1", "B:b2"))
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

func TestRun_AllSucceed(t *testing.T) {
	s := New(inference.NewAdapter(ktails.New()), WithWorkers(2))
	res := s.Run(context.Background(), threeComponents(t), inference.Options{})

	assert.Equal(t, []string{"A", "B", "C"}, res.Components)
	assert.Len(t, res.Models, 3)
	assert.Empty(t, res.Errors)
	assert.Nil(t, res.FirstError())
	assert.Empty(t, res.Failed())
}

func TestRun_PartialFailureIsolated(t *testing.T) {
	s := New(inference.NewAdapter(failingOn("B")), WithWorkers(3))
	res := s.Run(context.Background(), threeComponents(t), inference.Options{})

	require.Len(t, res.Models, 2)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Models, "A")
	assert.Contains(t, res.Models, "C")
	assert.Equal(t, []string{"B"}, res.Failed())

	comp, ok := inference.ComponentOf(res.Errors["B"])
	require.True(t, ok)
	assert.Equal(t, "B", comp)
	assert.True(t, inference.IsEngineError(res.FirstError()))
}

func TestRun_BoundedConcurrency(t *testing.T) {
	b := testutil.NewLogBuilder()
	for i := 0; i < 8; i++ {
		b.Emit("t1", fmt.Sprintf("C%d", i), "x")
	}
	parts := splitLog(t, b)

	var running, peak int32
	kt := ktails.New()
	engine := inference.EngineFunc(func(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return kt.Infer(ctx, req)
	})

	s := New(inference.NewAdapter(engine), WithWorkers(2))
	res := s.Run(context.Background(), parts, inference.Options{})

	assert.Len(t, res.Models, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 2, s.Workers())
}

func TestRun_StopOnErrorCancelsRest(t *testing.T) {
	engine := inference.EngineFunc(func(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
		if req.Component == "A" {
			return nil, errors.New("learner crashed")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	s := New(inference.NewAdapter(engine), WithWorkers(1), WithStopOnError(true))
	res := s.Run(context.Background(), threeComponents(t), inference.Options{})

	assert.Empty(t, res.Models)
	require.Len(t, res.Errors, 3)
	assert.True(t, inference.IsEngineError(res.Errors["A"]))
	assert.True(t, inference.IsCanceled(res.Errors["B"]))
	assert.True(t, inference.IsCanceled(res.Errors["C"]))
	assert.True(t, inference.IsEngineError(res.FirstError()))
}

func TestRun_StopOnErrorNeverStartsQueuedJobs(t *testing.T) {
	var calls sync.Map
	kt := ktails.New()
	engine := inference.EngineFunc(func(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
		calls.Store(req.Component, true)
		if req.Component == "A" {
			return nil, errors.New("learner crashed")
		}
		return kt.Infer(ctx, req)
	})

	s := New(inference.NewAdapter(engine), WithWorkers(1), WithStopOnError(true))
	res := s.Run(context.Background(), threeComponents(t), inference.Options{})

	assert.Empty(t, res.Models)
	assert.True(t, inference.IsEngineError(res.Errors["A"]))
	assert.True(t, inference.IsCanceled(res.Errors["B"]))
	assert.True(t, inference.IsCanceled(res.Errors["C"]))
	_, ranB := calls.Load("B")
	_, ranC := calls.Load("C")
	assert.False(t, ranB)
	assert.False(t, ranC)
}

func TestRun_ParentCancelPreservesCompleted(t *testing.T) {
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

	s := New(inference.NewAdapter(engine), WithWorkers(1))
	res := s.Run(ctx, threeComponents(t), inference.Options{})

	require.Contains(t, res.Models, "A")
	assert.True(t, inference.IsCanceled(res.Errors["B"]))
	assert.True(t, inference.IsCanceled(res.Errors["C"]))
}

func TestRun_Progress(t *testing.T) {
	var mu sync.Mutex
	var seen []Progress
	s := New(inference.NewAdapter(ktails.New()), WithWorkers(2), WithProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	}))
	s.Run(context.Background(), threeComponents(t), inference.Options{})

	require.Len(t, seen, 3)
	done := map[int]bool{}
	for _, p := range seen {
		assert.Equal(t, 3, p.Total)
		done[p.Done] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, done)
}

func TestRun_Empty(t *testing.T) {
	res := New(inference.NewAdapter(ktails.New())).Run(context.Background(), nil, inference.Options{})
	assert.Empty(t, res.Components)
	assert.Empty(t, res.Models)
	assert.Empty(t, res.Errors)
}

func TestNew_DefaultWorkers(t *testing.T) {
	s := New(inference.NewAdapter(ktails.New()), WithWorkers(0))
	assert.GreaterOrEqual(t, s.Workers(), 1)
}
