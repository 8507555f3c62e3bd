package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/weave/internal/canon"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/pipeline"
	"github.com/roach88/weave/internal/store"
)

// Outcome describes one handled change.
type Outcome struct {
	Path    string
	Result  *pipeline.Result
	Err     error
	Skipped bool // log content unchanged since the last stored run
	Stored  bool
}

// Inferrer runs the pipeline on the watched log and stores each run.
type Inferrer struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	logger   *slog.Logger
	onRun    func(Outcome)

	mu      sync.Mutex
	lastLog string
}

// NewInferrer creates an Inferrer. st may be nil to skip persistence and
// onRun may be nil.
func NewInferrer(p *pipeline.Pipeline, st *store.Store, logger *slog.Logger, onRun func(Outcome)) *Inferrer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inferrer{pipeline: p, store: st, logger: logger, onRun: onRun}
}

// Handle is a Handler. A log whose content hash matches the previous
// successful run is not inferred again.
func (i *Inferrer) Handle(ctx context.Context, path string) {
	out := i.run(ctx, path)
	if out.Err != nil {
		i.logger.Warn("inference failed", "path", path, "error", out.Err)
	}
	if i.onRun != nil {
		i.onRun(out)
	}
}

func (i *Inferrer) run(ctx context.Context, path string) Outcome {
	out := Outcome{Path: path}

	log, err := eventlog.ReadFile(path)
	if err != nil {
		out.Err = err
		return out
	}

	hash, err := canon.Hash(canon.DomainLog, log.Events())
	if err != nil {
		out.Err = err
		return out
	}
	i.mu.Lock()
	unchanged := hash == i.lastLog
	i.mu.Unlock()
	if unchanged {
		out.Skipped = true
		i.logger.Debug("log unchanged", "path", path, "log_hash", hash)
		return out
	}

	res, err := i.pipeline.Infer(ctx, log)
	out.Result, out.Err = res, err
	if res == nil {
		return out
	}

	if i.store != nil {
		if err := i.store.SaveRun(context.WithoutCancel(ctx), path, res); err != nil {
			out.Err = err
			return out
		}
		out.Stored = true
	}
	if err == nil {
		i.mu.Lock()
		i.lastLog = hash
		i.mu.Unlock()
	}
	i.logger.Info("run recorded",
		"run_id", res.RunID,
		"path", path,
		"nodes", res.Stats.Model.Nodes,
		"errors", len(res.Errors),
		"stored", out.Stored,
	)
	return out
}
