// Package scheduler runs per-component inference on a bounded worker pool.
//
// Each component owns one result slot. Workers only read their own partition
// and write their own slot, so results need no locking; the slots are folded
// into the returned maps after every worker has exited.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/partition"
)

// Progress is reported once per component when its job ends.
type Progress struct {
	Component string
	Done      int
	Total     int
	Duration  time.Duration
	Err       error
}

// Result maps every submitted component to either a model or an error.
// Exactly one of Models[c] and Errors[c] is set for each c in Components.
type Result struct {
	Components []string
	Models     map[string]*inference.Model
	Errors     map[string]error
}

// Failed returns the components whose inference failed, sorted.
func (r *Result) Failed() []string {
	out := make([]string, 0, len(r.Errors))
	for _, c := range r.Components {
		if _, ok := r.Errors[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// FirstError returns the error of the first failed component in component
// order, or nil.
func (r *Result) FirstError() error {
	for _, c := range r.Components {
		if err, ok := r.Errors[c]; ok {
			return err
		}
	}
	return nil
}

// Scheduler fans partitions out to an inference.Adapter.
type Scheduler struct {
	adapter     *inference.Adapter
	workers     int
	stopOnError bool
	progress    func(Progress)
	logger      *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers caps the number of concurrent inference calls. Values below 1
// fall back to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		s.workers = n
	}
}

// WithStopOnError cancels outstanding jobs after the first failure. Jobs that
// never started are recorded as cancelled.
func WithStopOnError(stop bool) Option {
	return func(s *Scheduler) {
		s.stopOnError = stop
	}
}

// WithProgress registers a callback invoked as each job ends. It is called
// from worker goroutines and must be safe for concurrent use.
func WithProgress(fn func(Progress)) Option {
	return func(s *Scheduler) {
		s.progress = fn
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler over adapter.
func New(adapter *inference.Adapter, opts ...Option) *Scheduler {
	s := &Scheduler{adapter: adapter, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = runtime.NumCPU()
	}
	return s
}

// Workers returns the effective worker budget.
func (s *Scheduler) Workers() int {
	return s.workers
}

type slot struct {
	model    *inference.Model
	err      error
	started  bool
	duration time.Duration
}

// Run infers a model for every partition and returns the full result map.
//
// Run never returns early: it waits for every started job, so a job either
// completed, failed, or was cancelled by the time Run returns. Cancelling ctx
// cancels every in-flight call.
func (s *Scheduler) Run(ctx context.Context, partitions map[string]*partition.Partition, opts inference.Options) *Result {
	components := make([]string, 0, len(partitions))
	for c := range partitions {
		components = append(components, c)
	}
	sort.Strings(components)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]slot, len(components))
	jobs := make(chan int)

	workers := s.workers
	if workers > len(components) {
		workers = len(components)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// A job handed over after cancellation stays unstarted.
				if runCtx.Err() != nil {
					continue
				}
				comp := components[i]
				start := time.Now()
				m, err := s.adapter.Infer(runCtx, partitions[comp], opts)
				slots[i] = slot{model: m, err: err, started: true, duration: time.Since(start)}

				if err != nil && s.stopOnError {
					cancel()
				}

				s.logger.Debug("component inferred",
					"component", comp,
					"traces", len(partitions[comp].Traces),
					"states", stateCount(m),
					"duration", slots[i].duration,
					"error", err,
				)

				if s.progress != nil {
					mu.Lock()
					done++
					p := Progress{Component: comp, Done: done, Total: len(components), Duration: slots[i].duration, Err: err}
					mu.Unlock()
					s.progress(p)
				}
			}
		}()
	}

dispatch:
	for i := range components {
		if runCtx.Err() != nil {
			break
		}
		select {
		case jobs <- i:
		case <-runCtx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	res := &Result{
		Components: components,
		Models:     make(map[string]*inference.Model, len(components)),
		Errors:     make(map[string]error),
	}
	for i, comp := range components {
		sl := slots[i]
		switch {
		case !sl.started:
			cause := context.Cause(runCtx)
			res.Errors[comp] = inference.NewCanceledError(comp, cause)
		case sl.err != nil:
			res.Errors[comp] = sl.err
		default:
			res.Models[comp] = sl.model
		}
	}
	return res
}

func stateCount(m *inference.Model) int {
	if m == nil {
		return 0
	}
	return len(m.DFA.States())
}
