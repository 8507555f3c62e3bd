package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/weave/internal/automaton"
	"github.com/roach88/weave/internal/partition"
)

// Generalization bounds. Higher levels merge more aggressively.
const (
	MinGeneralization     = 0
	MaxGeneralization     = 5
	DefaultGeneralization = 2
)

// Request is what an engine sees: label streams only, one per trace, with
// trace boundaries preserved.
type Request struct {
	Component           string     `json:"component"`
	Traces              [][]string `json:"traces"`
	GeneralizationLevel int        `json:"generalization_level"`
}

// Engine is a single-component automaton learner.
//
// Infer must return promptly once ctx is done; the Adapter stops waiting at the
// deadline either way.
type Engine interface {
	Name() string
	Infer(ctx context.Context, req Request) (*automaton.DFA, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request) (*automaton.DFA, error)

// Name implements Engine.
func (f EngineFunc) Name() string { return "func" }

// Infer implements Engine.
func (f EngineFunc) Infer(ctx context.Context, req Request) (*automaton.DFA, error) {
	return f(ctx, req)
}

// Options controls one inference call.
type Options struct {
	GeneralizationLevel int

	// Timeout bounds the engine call. Zero disables the deadline.
	Timeout time.Duration
}

// Position locates one event in its component model: the state the replay was
// in before the event's transition and the state after it.
type Position struct {
	Before string
	After  string
}

// Model is a ComponentModel: the inferred DFA plus the partition it was
// learned from, with every event mapped to its replay position.
type Model struct {
	Component string
	DFA       *automaton.DFA
	Partition *partition.Partition
	Engine    string
	Duration  time.Duration

	positions map[int64]Position
}

// Position returns the replay position of the event with sequence index seq.
func (m *Model) Position(seq int64) (Position, bool) {
	p, ok := m.positions[seq]
	return p, ok
}

// Adapter runs an Engine for one partition at a time. It is safe for
// concurrent use if the Engine is.
type Adapter struct {
	engine Engine
	logger *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = l
	}
}

// NewAdapter wraps engine.
func NewAdapter(engine Engine, opts ...AdapterOption) *Adapter {
	a := &Adapter{engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Engine returns the wrapped engine.
func (a *Adapter) Engine() Engine {
	return a.engine
}

type engineResult struct {
	dfa *automaton.DFA
	err error
}

// Infer learns the ComponentModel for p.
//
// Failures are always *Error attributed to p.Component: ErrCodeTimeout when the
// per-call deadline expires, ErrCodeCanceled when ctx itself is done, and
// ErrCodeEngine for engine failures or a model that rejects a submitted trace.
func (a *Adapter) Infer(ctx context.Context, p *partition.Partition, opts Options) (*Model, error) {
	if opts.GeneralizationLevel < MinGeneralization || opts.GeneralizationLevel > MaxGeneralization {
		return nil, NewEngineError(p.Component,
			fmt.Sprintf("generalization level %d outside [%d, %d]", opts.GeneralizationLevel, MinGeneralization, MaxGeneralization), nil)
	}

	req := Request{
		Component:           p.Component,
		Traces:              p.Labels(),
		GeneralizationLevel: opts.GeneralizationLevel,
	}

	callCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan engineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- engineResult{err: NewEngineError(p.Component, fmt.Sprintf("engine panicked: %v", r), nil)}
			}
		}()
		dfa, err := a.engine.Infer(callCtx, req)
		done <- engineResult{dfa: dfa, err: err}
	}()

	var res engineResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	elapsed := time.Since(start)

	if res.err != nil {
		err := a.classify(ctx, callCtx, p.Component, opts.Timeout, res.err)
		a.logger.Debug("inference failed", "component", p.Component, "engine", a.engine.Name(), "duration", elapsed, "error", err)
		return nil, err
	}
	if res.dfa == nil {
		return nil, NewEngineError(p.Component, "engine returned no model", nil)
	}

	m := &Model{
		Component: p.Component,
		DFA:       res.dfa,
		Partition: p,
		Engine:    a.engine.Name(),
		Duration:  elapsed,
		positions: make(map[int64]Position, p.EventCount()),
	}
	if err := m.index(); err != nil {
		return nil, err
	}

	a.logger.Debug("inference done",
		"component", p.Component,
		"engine", a.engine.Name(),
		"traces", len(p.Traces),
		"states", len(res.dfa.States()),
		"duration", elapsed,
	)
	return m, nil
}

// classify turns a failed or expired call into an *Error.
func (a *Adapter) classify(parent, call context.Context, component string, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return NewCanceledError(component, parent.Err())
	case call.Err() != nil && errors.Is(call.Err(), context.DeadlineExceeded):
		return &Error{
			Code:      ErrCodeTimeout,
			Component: component,
			Message:   fmt.Sprintf("inference exceeded %s", timeout),
			Err:       context.DeadlineExceeded,
		}
	default:
		var ie *Error
		if errors.As(err, &ie) && ie.Component == component {
			return ie
		}
		return NewEngineError(component, "engine failed", err)
	}
}

// index replays every submitted trace, rejecting models that do not accept it,
// and records each event's position.
func (m *Model) index() error {
	for _, slice := range m.Partition.Traces {
		labels := slice.Labels()
		path, stuck := m.DFA.Run(labels)
		if stuck >= 0 {
			return &Error{
				Code:      ErrCodeEngine,
				Component: m.Component,
				TraceID:   slice.TraceID,
				Message:   fmt.Sprintf("model has no transition for label %q at position %d", labels[stuck], stuck),
			}
		}
		if !m.DFA.IsAccepting(path[len(path)-1]) {
			return &Error{
				Code:      ErrCodeEngine,
				Component: m.Component,
				TraceID:   slice.TraceID,
				Message:   "model does not accept submitted trace",
			}
		}
		for i, e := range slice.Events {
			m.positions[e.Seq] = Position{Before: path[i], After: path[i+1]}
		}
	}
	return nil
}
