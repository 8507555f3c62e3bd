package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/store"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Database string
	RunID    string
	MinRatio float64
}

// RejectedTrace is a trace the model does not accept.
type RejectedTrace struct {
	TraceID  string `json:"trace_id"`
	Consumed int    `json:"consumed"`
	Length   int    `json:"length"`
}

// CheckResult is the output of the check command.
type CheckResult struct {
	RunID    string          `json:"run_id"`
	Traces   int             `json:"traces"`
	Accepted int             `json:"accepted"`
	Ratio    float64         `json:"ratio"`
	Rejected []RejectedTrace `json:"rejected,omitempty"`
}

// WriteText renders the result for terminals.
func (r CheckResult) WriteText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Run %s accepts %d/%d trace(s) (%.1f%%)\n", r.RunID, r.Accepted, r.Traces, 100*r.Ratio)
	for _, t := range r.Rejected {
		fmt.Fprintf(w, "  ✗ %s: stuck after %d of %d event(s)\n", t.TraceID, t.Consumed, t.Length)
	}
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check [log]",
		Short: "Replay a log against a stored model",
		Long: `Replay every trace of a log against a stored model and report how many
are accepted. Without a log argument the run's own input is replayed.

Exit codes:
  0 - Accepted ratio is at least --min-ratio
  1 - Accepted ratio is below --min-ratio
  2 - Command error

Examples:
  weave check --db weave.db
  weave check held-out.jsonl --db weave.db --run 0190... --min-ratio 0.9`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logPath := ""
			if len(args) == 1 {
				logPath = args[0]
			}
			return runCheck(opts, logPath, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	cmd.Flags().Float64Var(&opts.MinRatio, "min-ratio", 1.0, "minimum accepted ratio")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runCheck(opts *CheckOptions, logPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := resolveRun(ctx, st, opts.RunID)
	if err != nil {
		return err
	}
	model, err := st.LoadModel(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load model", err)
	}

	var log *eventlog.GlobalLog
	if logPath != "" {
		log, err = readLog(cmd, logPath)
	} else {
		var events []eventlog.Event
		if events, err = st.ReadEvents(ctx, run.ID); err == nil {
			log, err = eventlog.New(events)
		}
	}
	if err != nil {
		return f.Fail("failed to read log", err)
	}

	res := CheckResult{RunID: run.ID}
	for _, tr := range log.Traces() {
		res.Traces++
		consumed, ok := model.Replay(tr.Labels())
		if ok {
			res.Accepted++
			continue
		}
		res.Rejected = append(res.Rejected, RejectedTrace{TraceID: tr.ID, Consumed: consumed, Length: len(tr.Events)})
	}
	if res.Traces > 0 {
		res.Ratio = float64(res.Accepted) / float64(res.Traces)
	} else {
		res.Ratio = 1
	}

	if err := f.Success(res); err != nil {
		return err
	}
	if res.Ratio < opts.MinRatio {
		return NewExitError(ExitFailure, fmt.Sprintf("accepted ratio %.3f below %.3f", res.Ratio, opts.MinRatio))
	}
	return nil
}

// resolveRun returns the run with id, or the latest run when id is empty.
func resolveRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	var (
		run store.Run
		err error
	)
	if id == "" {
		run, err = st.LatestRun(ctx)
	} else {
		run, err = st.GetRun(ctx, id)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		if id == "" {
			return store.Run{}, NewExitError(ExitCommandError, "no runs stored")
		}
		return store.Run{}, NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", id))
	}
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to read run", err)
	}
	return run, nil
}
