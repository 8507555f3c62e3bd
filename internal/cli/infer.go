package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/canon"
	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/pipeline"
	"github.com/roach88/weave/internal/store"
)

// InferOptions holds flags for the infer command.
type InferOptions struct {
	*RootOptions
	ConfigFlags
	Database string
	Out      string

	// IDGenerator overrides the run id source (for testing).
	IDGenerator pipeline.IDGenerator

	// Clock overrides the run timestamp source (for testing).
	Clock func() time.Time
}

// InferResult is the output of the infer command.
type InferResult struct {
	RunID     string                `json:"run_id"`
	Engine    string                `json:"engine"`
	Config    config.Config         `json:"config"`
	Stats     pipeline.Stats        `json:"stats"`
	Errors    []pipeline.Classified `json:"errors,omitempty"`
	Partial   bool                  `json:"partial"`
	LogHash   string                `json:"log_hash"`
	ModelHash string                `json:"model_hash"`
	Stored    bool                  `json:"stored"`
	Graph     *merge.Graph          `json:"graph,omitempty"`
}

// WriteText renders the result for terminals.
func (r InferResult) WriteText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Run %s (%s engine)\n", r.RunID, r.Engine)
	fmt.Fprintf(w, "  components: %d (%d failed)\n", r.Stats.Components, r.Stats.FailedComponents)
	fmt.Fprintf(w, "  traces: %d, events: %d, hand-offs: %d\n", r.Stats.Traces, r.Stats.Events, r.Stats.WitnessPairs)
	fmt.Fprintf(w, "  model: %d nodes, %d edges (%d synchronization)\n",
		r.Stats.Model.Nodes, r.Stats.Model.Edges, r.Stats.Model.SyncEdges)
	if r.Stats.Verified > 0 {
		fmt.Fprintf(w, "  verified: %d/%d traces accepted\n", r.Stats.Accepted, r.Stats.Verified)
	}
	fmt.Fprintf(w, "  model hash: %s\n", r.ModelHash)
	if verbose {
		for _, s := range []pipeline.Stage{pipeline.StagePartition, pipeline.StageInfer, pipeline.StageMerge, pipeline.StageVerify} {
			if d, ok := r.Stats.Durations[s]; ok {
				fmt.Fprintf(w, "  %s: %s\n", s, d)
			}
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  warning [%s]: %s\n", e.Code, e.Message)
	}
	if r.Partial {
		fmt.Fprintln(w, "  run was interrupted; the model covers completed components only")
	}
	if r.Stored {
		fmt.Fprintln(w, "  stored")
	}
}

// NewInferCommand creates the infer command.
func NewInferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "infer <log>",
		Short: "Infer a system model from a log",
		Long: `Infer a global model from a JSON Lines or CSV log ("-" reads JSON Lines from stdin).

Exit codes:
  0 - Model inferred (best_effort runs may report recovered errors)
  1 - Inference or soundness failure, or the run was interrupted
  2 - Command error (bad config, unreadable or malformed log)

Examples:
  weave infer events.jsonl
  weave infer events.csv --generalization 0 --policy best_effort
  weave infer events.jsonl --config weave.cue --db weave.db --out model.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfer(opts, args[0], cmd)
		},
	}

	opts.ConfigFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Database, "db", "", "store the run in this SQLite database")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the model graph as canonical JSON to this file")

	return cmd
}

func runInfer(opts *InferOptions, logPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	logger := opts.logger(cmd)

	cfg, err := opts.resolve(cmd)
	if err != nil {
		return f.Fail("invalid configuration", err)
	}
	log, err := readLog(cmd, logPath)
	if err != nil {
		return f.Fail("failed to read log", err)
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithHooks(pipeline.Hooks{
			StageFinished: func(s pipeline.Stage, d time.Duration) {
				f.VerboseLog("%s finished in %s", s, d)
			},
		}),
	}
	if opts.IDGenerator != nil {
		popts = append(popts, pipeline.WithIDGenerator(opts.IDGenerator))
	}
	if opts.Clock != nil {
		popts = append(popts, pipeline.WithClock(opts.Clock))
	}
	p, err := pipeline.New(cfg, popts...)
	if err != nil {
		return f.Fail("invalid configuration", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	res, runErr := p.Infer(ctx, log)
	if res == nil {
		return f.Fail("inference failed", runErr)
	}

	out := InferResult{
		RunID:     res.RunID,
		Engine:    res.Engine,
		Config:    res.Config,
		Stats:     res.Stats,
		Partial:   res.Partial,
		LogHash:   res.LogHash,
		ModelHash: res.ModelHash,
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, pipeline.Classify(e))
	}
	if opts.Format == "json" {
		g := res.Model.Graph()
		out.Graph = &g
	}

	if opts.Out != "" {
		if err := writeGraph(opts.Out, res.Model); err != nil {
			return WrapExitError(ExitCommandError, "failed to write model", err)
		}
	}
	if opts.Database != "" {
		// Persist even an interrupted run: the partial model is still useful.
		if err := saveRun(context.WithoutCancel(ctx), opts.Database, logPath, res); err != nil {
			return WrapExitError(ExitCommandError, "failed to store run", err)
		}
		out.Stored = true
	}

	if err := f.Success(out); err != nil {
		return err
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return WrapExitError(ExitFailure, "run interrupted", runErr)
		}
		return WrapExitError(ExitFailure, "inference failed", runErr)
	}
	return nil
}

func writeGraph(path string, m *merge.GlobalModel) error {
	data, err := canon.Marshal(m.Graph())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func saveRun(ctx context.Context, dbPath, source string, res *pipeline.Result) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveRun(ctx, source, res)
}
