package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/partition"
	"github.com/roach88/weave/internal/pipeline"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/testutil"
)

// scenarioEpoch is the start time recorded for every scenario run.
var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario and evaluates its assertions.
//
// Each scenario runs with a fixed run id and clock and persists its result
// to a fresh in-memory store; model assertions check the model read back
// from the store. Pipeline failures are part of the result, not returned:
// err is only set when the scenario itself cannot be set up.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	cfg, err := s.config()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	eng, err := pipeline.NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	if len(s.FailComponents) > 0 {
		eng = newFaultEngine(eng, s.FailComponents)
	}
	runID := s.RunID
	if runID == "" {
		runID = "scenario-" + s.Name
	}
	p, err := pipeline.New(cfg,
		pipeline.WithEngine(eng),
		pipeline.WithIDGenerator(testutil.NewFixedRunIDs(runID)),
		pipeline.WithClock(func() time.Time { return scenarioEpoch }),
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	result := NewResult()
	log, err := eventlog.New(s.events())
	if err != nil {
		result.fail(err)
	} else if result.Partition, err = partition.Split(log); err != nil {
		result.fail(err)
	} else {
		run, err := p.Infer(ctx, log)
		if run != nil {
			for _, e := range run.Errors {
				result.Codes = append(result.Codes, pipeline.Classify(e).Code)
			}
			if perr := result.persist(ctx, run); perr != nil {
				return nil, fmt.Errorf("scenario %s: %w", s.Name, perr)
			}
		}
		if err != nil {
			result.fail(err)
		}
	}

	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	if result.Err != nil && !expectsErrors(s.Assertions) {
		result.AddError(fmt.Sprintf("run failed: %v", result.Err))
	}
	return result, nil
}

func (s *Scenario) events() []eventlog.Event {
	if len(s.Traces) == 0 {
		return s.Events
	}
	b := testutil.NewLogBuilder()
	for _, tr := range s.Traces {
		b.Trace(tr.ID, tr.Steps...)
	}
	return b.Events()
}

func (r *Result) fail(err error) {
	r.Err = err
	r.Codes = append(r.Codes, pipeline.Classify(err).Code)
}

// persist stores run and reads its model back.
func (r *Result) persist(ctx context.Context, run *pipeline.Result) error {
	r.Run = run
	if run.Model == nil {
		return nil
	}
	st, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.SaveRun(ctx, "scenario", run); err != nil {
		return err
	}
	r.Model, err = st.LoadModel(ctx, run.RunID)
	return err
}

func expectsErrors(assertions []Assertion) bool {
	for _, a := range assertions {
		if a.Type == AssertErrors {
			return true
		}
	}
	return false
}

// faultEngine fails inference for selected components.
type faultEngine struct {
	inner inference.Engine
	fail  map[string]bool
}

func newFaultEngine(inner inference.Engine, components []string) *faultEngine {
	fail := make(map[string]bool, len(components))
	for _, c := range components {
		fail[c] = true
	}
	return &faultEngine{inner: inner, fail: fail}
}

func (e *faultEngine) Name() string {
	return e.inner.Name()
}

func (e *faultEngine) Infer(ctx context.Context, req inference.Request) (*automaton.DFA, error) {
	if e.fail[req.Component] {
		return nil, fmt.Errorf("injected failure for component %s", req.Component)
	}
	return e.inner.Infer(ctx, req)
}
