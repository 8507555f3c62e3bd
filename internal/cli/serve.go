package cli

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Long: `Serve the runs in a database as a read-only JSON API.

Endpoints:
  GET /health
  GET /v1/runs
  GET /v1/runs/{id}
  GET /v1/runs/{id}/model      (?canonical=1 for the hashed bytes)
  GET /v1/runs/{id}/errors
  GET /v1/runs/{id}/events

Examples:
  weave serve --db weave.db
  weave serve --db weave.db --addr 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to serve (required)")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.logger(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	logger.Debug("opened database", "db", opts.Database)
	if err := api.Serve(ctx, ln, api.NewRouter(st, logger), logger); err != nil {
		return WrapExitError(ExitFailure, "server failed", err)
	}
	return nil
}
