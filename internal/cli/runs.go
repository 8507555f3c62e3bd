package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Delete   string
}

// RunList is the output of the runs command.
type RunList struct {
	Runs []store.Run `json:"runs"`
}

// WriteText renders the list for terminals.
func (l RunList) WriteText(w io.Writer, verbose bool) {
	if len(l.Runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	for _, r := range l.Runs {
		flag := ""
		if r.Partial {
			flag = " (partial)"
		}
		fmt.Fprintf(w, "%s  %s  %s  %d nodes, %d errors%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Source, r.Stats.Model.Nodes, r.ErrorCount, flag)
		if verbose {
			fmt.Fprintf(w, "    engine=%s level=%d policy=%s model_hash=%s\n",
				r.Engine, r.Config.GeneralizationLevel, r.Config.FailurePolicy, r.ModelHash)
		}
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List stored runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Delete, "delete", "", "delete the run with this id")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
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

	if opts.Delete != "" {
		if err := st.DeleteRun(ctx, opts.Delete); err != nil {
			return WrapExitError(ExitCommandError, "failed to delete run", err)
		}
		f.VerboseLog("deleted run %s", opts.Delete)
	}

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	return f.Success(RunList{Runs: runs})
}
