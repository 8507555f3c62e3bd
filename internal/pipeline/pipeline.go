// Package pipeline drives a full inference run: partition the log, infer one
// model per component on a bounded pool, merge the models, and check the
// merged model against every observed trace.
//
// Everything except inference runs on the caller's goroutine. Hooks observe
// progress but never influence the result.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/weave/internal/canon"
	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/inference/command"
	"github.com/roach88/weave/internal/inference/ktails"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/partition"
	"github.com/roach88/weave/internal/scheduler"
)

// Stage names a pipeline step.
type Stage string

const (
	StagePartition Stage = "partition"
	StageInfer     Stage = "infer"
	StageMerge     Stage = "merge"
	StageVerify    Stage = "verify"
)

// Hooks observe a run. Any field may be nil. Component hooks are called from
// worker goroutines.
type Hooks struct {
	StageStarted  func(Stage)
	StageFinished func(Stage, time.Duration)
	ComponentDone func(scheduler.Progress)
}

// Stats summarizes a run.
type Stats struct {
	Components            int                     `json:"components"`
	FailedComponents      int                     `json:"failed_components"`
	Traces                int                     `json:"traces"`
	Events                int                     `json:"events"`
	WitnessPairs          int                     `json:"witness_pairs"`
	ComponentSetDiversity float64                 `json:"component_set_diversity"`
	Model                 merge.Stats             `json:"model"`
	Accepted              int                     `json:"accepted_traces"`
	Verified              int                     `json:"verified_traces"`
	Durations             map[Stage]time.Duration `json:"durations"`
}

// Result is the outcome of a run.
type Result struct {
	RunID     string
	StartedAt time.Time
	Config    config.Config
	Engine    string

	Log       *eventlog.GlobalLog
	Partition *partition.Result

	// Models holds the successfully inferred component models.
	Models map[string]*inference.Model

	// Model is the merged system model. Nil only when the run aborted.
	Model *merge.GlobalModel

	// Errors lists every recovered error: component failures in component
	// order, then unresolved boundaries in witness order.
	Errors []error

	// Partial is set when a cancelled best-effort run returns what completed.
	Partial bool

	LogHash   string
	ModelHash string
	Stats     Stats
}

// Pipeline runs inference with a fixed configuration.
type Pipeline struct {
	cfg    config.Config
	engine inference.Engine
	ids    IDGenerator
	now    func() time.Time
	hooks  Hooks
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEngine overrides the engine chosen by the configuration.
func WithEngine(e inference.Engine) Option {
	return func(p *Pipeline) {
		p.engine = e
	}
}

// WithIDGenerator sets the run id source. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) {
		p.ids = g
	}
}

// WithClock sets the wall clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithHooks registers progress hooks.
func WithHooks(h Hooks) Option {
	return func(p *Pipeline) {
		p.hooks = h
	}
}

// WithLogger sets the logger for the pipeline and everything it drives.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewEngine builds the engine named by cfg.
func NewEngine(cfg config.Config) (inference.Engine, error) {
	switch cfg.Engine {
	case config.EngineKTails, "":
		return ktails.New(), nil
	case config.EngineCommand:
		if len(cfg.EngineCommand) == 0 {
			return nil, &config.Error{Code: config.ErrCodeInvalidConfig, Key: "engine_command", Message: "no command configured"}
		}
		return command.New(cfg.EngineCommand...), nil
	}
	return nil, &config.Error{Code: config.ErrCodeInvalidConfig, Key: "engine", Message: fmt.Sprintf("unknown engine %q", cfg.Engine)}
}

// New validates cfg and creates a pipeline.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		ids:    UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		e, err := NewEngine(cfg)
		if err != nil {
			return nil, err
		}
		p.engine = e
	}
	return p, nil
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// Infer runs the pipeline over log.
//
// Under fail_fast the first error aborts the run and Infer returns it with a
// nil result. Under best_effort recoverable errors are collected in
// Result.Errors and the model covers the components that succeeded. If ctx is
// cancelled during inference, a best_effort run still merges what completed
// and returns that partial result together with the context error.
//
// Malformed input and merge invariant violations are fatal under either
// policy.
func (p *Pipeline) Infer(ctx context.Context, log *eventlog.GlobalLog) (*Result, error) {
	if log == nil {
		log, _ = eventlog.New(nil)
	}
	res := &Result{
		RunID:     p.ids.Generate(),
		StartedAt: p.now().UTC(),
		Config:    p.cfg,
		Engine:    p.engine.Name(),
		Log:       log,
		Stats:     Stats{Durations: make(map[Stage]time.Duration)},
	}
	logger := p.logger.With("run_id", res.RunID)
	bestEffort := p.cfg.FailurePolicy == config.BestEffort

	// Partition.
	done := p.stage(res, StagePartition)
	parts, err := partition.Split(log)
	done()
	if err != nil {
		return nil, err
	}
	res.Partition = parts
	res.Stats.Components = len(parts.Components)
	res.Stats.Traces = len(log.Traces())
	res.Stats.Events = parts.EventCount()
	res.Stats.WitnessPairs = len(parts.Witness.Pairs)
	res.Stats.ComponentSetDiversity = log.ComponentSetDiversity()
	logger.Info("log partitioned",
		"components", res.Stats.Components,
		"traces", res.Stats.Traces,
		"events", res.Stats.Events,
		"witness_pairs", res.Stats.WitnessPairs,
	)

	// Infer.
	done = p.stage(res, StageInfer)
	sched := scheduler.New(
		inference.NewAdapter(p.engine, inference.WithLogger(logger)),
		scheduler.WithWorkers(p.cfg.WorkerBudget),
		scheduler.WithStopOnError(!bestEffort),
		scheduler.WithProgress(p.hooks.ComponentDone),
		scheduler.WithLogger(logger),
	)
	sr := sched.Run(ctx, parts.Partitions, inference.Options{
		GeneralizationLevel: p.cfg.GeneralizationLevel,
		Timeout:             p.cfg.PerComponentTimeout,
	})
	done()
	res.Models = sr.Models
	res.Stats.FailedComponents = len(sr.Errors)

	canceled := ctx.Err()
	if len(sr.Errors) > 0 {
		if !bestEffort {
			if canceled != nil {
				return nil, canceled
			}
			return nil, rootCause(sr)
		}
		for _, c := range sr.Failed() {
			logger.Warn("component inference failed", "component", c, "error", sr.Errors[c])
			res.Errors = append(res.Errors, sr.Errors[c])
		}
	}
	if canceled != nil {
		if !bestEffort {
			return nil, canceled
		}
		res.Partial = true
	}

	// Merge.
	done = p.stage(res, StageMerge)
	model, unresolved, err := merge.Merge(sr.Models, parts.Witness, merge.Options{
		FailFast: !bestEffort,
		Collapse: p.cfg.PostMergeCollapse,
		Logger:   logger,
	})
	done()
	if err != nil {
		return nil, err
	}
	for _, ube := range unresolved {
		res.Errors = append(res.Errors, ube)
	}
	if len(unresolved) > 0 {
		logger.Warn("unresolved boundaries", "count", len(unresolved))
	}
	res.Model = model
	res.Stats.Model = model.Stats()

	// Verify.
	if p.cfg.VerifySoundness {
		done = p.stage(res, StageVerify)
		err := verify(res)
		done()
		if err != nil {
			return nil, err
		}
	}

	if res.LogHash, err = canon.Hash(canon.DomainLog, log.Events()); err != nil {
		return nil, err
	}
	if res.ModelHash, err = canon.Hash(canon.DomainModel, model.Graph()); err != nil {
		return nil, err
	}

	logger.Info("model inferred",
		"nodes", res.Stats.Model.Nodes,
		"edges", res.Stats.Model.Edges,
		"sync_edges", res.Stats.Model.SyncEdges,
		"errors", len(res.Errors),
		"partial", res.Partial,
	)
	if res.Partial {
		return res, canceled
	}
	return res, nil
}

// verify replays every trace whose components all have models.
func verify(res *Result) error {
	for _, tr := range res.Log.Traces() {
		covered := true
		for _, c := range tr.Components() {
			if _, ok := res.Models[c]; !ok {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		res.Stats.Verified++
		consumed, ok := res.Model.Replay(tr.Labels())
		if !ok {
			return &merge.InvariantViolationError{
				Code:    merge.ErrCodeInvariantViolation,
				Message: fmt.Sprintf("merged model rejects observed trace after %d of %d events", consumed, len(tr.Events)),
				TraceID: tr.ID,
			}
		}
		res.Stats.Accepted++
	}
	return nil
}

// rootCause picks the first failure that is not a knock-on cancellation.
func rootCause(sr *scheduler.Result) error {
	for _, c := range sr.Components {
		err, ok := sr.Errors[c]
		if ok && !inference.IsCanceled(err) {
			return err
		}
	}
	return sr.FirstError()
}

func (p *Pipeline) stage(res *Result, s Stage) func() {
	if p.hooks.StageStarted != nil {
		p.hooks.StageStarted(s)
	}
	start := time.Now()
	return func() {
		d := time.Since(start)
		res.Stats.Durations[s] = d
		p.logger.Debug("stage finished", "run_id", res.RunID, "stage", s, "duration", d)
		if p.hooks.StageFinished != nil {
			p.hooks.StageFinished(s, d)
		}
	}
}
