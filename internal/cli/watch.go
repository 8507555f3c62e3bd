package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/pipeline"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/watch"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	ConfigFlags
	Database string
	Debounce time.Duration
}

// WatchRun is printed for every inference the watcher performs.
type WatchRun struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
	InferResult
}

// WriteText renders the run, or the error when the log could not be inferred.
func (r WatchRun) WriteText(w io.Writer, verbose bool) {
	if r.RunID == "" {
		fmt.Fprintf(w, "%s: %s\n", r.Path, r.Error)
		return
	}
	r.InferResult.WriteText(w, verbose)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <log>",
		Short: "Re-infer the model whenever a log file changes",
		Long: `Watch a log file and run inference each time it changes.

The log is inferred once on start. Bursts of writes are debounced, and a
log whose content is unchanged since the last successful run is skipped.
With --db every run is stored. Stops on SIGINT or SIGTERM.

Examples:
  weave watch events.jsonl
  weave watch events.jsonl --db weave.db --debounce 2s --policy best_effort`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	opts.ConfigFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "store every run in this SQLite database")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", watch.DefaultDebounce, "quiet period before a changed log is processed")

	return cmd
}

func runWatch(opts *WatchOptions, logPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.logger(cmd)

	cfg, err := opts.resolve(cmd)
	if err != nil {
		return f.Fail("invalid configuration", err)
	}
	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return f.Fail("invalid configuration", err)
	}

	var st *store.Store
	if opts.Database != "" {
		if st, err = store.Open(opts.Database); err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}

	inf := watch.NewInferrer(p, st, logger, func(o watch.Outcome) {
		if o.Skipped {
			f.VerboseLog("%s unchanged, skipped", o.Path)
			return
		}
		_ = f.Success(watchRun(o))
	})

	ctx, stop := signalContext(cmd)
	defer stop()

	path, err := filepath.Abs(logPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid log path", err)
	}
	w := watch.New(path, inf.Handle,
		watch.WithDebounce(opts.Debounce),
		watch.WithInitialRun(true),
		watch.WithLogger(logger),
	)
	logger.Info("watching", "path", path, "debounce", opts.Debounce)
	if err := w.Run(ctx); err != nil {
		return WrapExitError(ExitCommandError, "watch failed", err)
	}
	return nil
}

func watchRun(o watch.Outcome) WatchRun {
	out := WatchRun{Path: o.Path}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	if res := o.Result; res != nil {
		out.InferResult = InferResult{
			RunID:     res.RunID,
			Engine:    res.Engine,
			Config:    res.Config,
			Stats:     res.Stats,
			Partial:   res.Partial,
			LogHash:   res.LogHash,
			ModelHash: res.ModelHash,
			Stored:    o.Stored,
		}
		for _, e := range res.Errors {
			out.Errors = append(out.Errors, pipeline.Classify(e))
		}
	}
	return out
}
