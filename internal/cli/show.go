package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/canon"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/pipeline"
	"github.com/roach88/weave/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// ShowResult is the output of the show command.
type ShowResult struct {
	Run    store.Run             `json:"run"`
	Graph  merge.Graph           `json:"graph"`
	Errors []pipeline.Classified `json:"errors"`

	canonical []byte
}

// WriteText prints the graph as canonical JSON, followed by the run's
// recovered errors when verbose.
func (r ShowResult) WriteText(w io.Writer, verbose bool) {
	fmt.Fprintln(w, string(r.canonical))
	if !verbose {
		return
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "# [%s] %s\n", e.Code, e.Message)
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a stored model graph",
		Long: `Print the model graph of a stored run as canonical JSON.

Examples:
  weave show --db weave.db
  weave show --db weave.db --run 0190... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command) error {
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
	g, err := st.ReadGraph(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read model", err)
	}
	errs, err := st.ReadErrors(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read errors", err)
	}
	data, err := canon.Marshal(g)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode model", err)
	}
	return f.Success(ShowResult{Run: run, Graph: g, Errors: errs, canonical: data})
}
