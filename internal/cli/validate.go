package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/config"
)

// ValidationResult is the output of the validate command.
type ValidationResult struct {
	Valid                 bool          `json:"valid"`
	Config                config.Config `json:"config"`
	Traces                int           `json:"traces"`
	Events                int           `json:"events"`
	Components            []string      `json:"components"`
	ComponentSetDiversity float64       `json:"component_set_diversity"`
}

// WriteText renders the result for terminals.
func (r ValidationResult) WriteText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "✓ log valid: %d trace(s), %d event(s), components %v\n", r.Traces, r.Events, r.Components)
	fmt.Fprintf(w, "  component-set diversity: %.3f\n", r.ComponentSetDiversity)
	if verbose {
		fmt.Fprintf(w, "  generalization_level=%d worker_budget=%d per_component_timeout=%s failure_policy=%s engine=%s\n",
			r.Config.GeneralizationLevel, r.Config.WorkerBudget, r.Config.PerComponentTimeout,
			r.Config.FailurePolicy, r.Config.Engine)
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &ConfigFlags{}

	cmd := &cobra.Command{
		Use:   "validate <log>",
		Short: "Validate a log and configuration without inference",
		Long: `Check that a log satisfies the input rules (non-empty ids and labels,
unique sequence indices, increasing within each trace) and that the
effective configuration is valid. Nothing is inferred.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, flags, args[0], cmd)
		},
	}
	flags.register(cmd)
	return cmd
}

func runValidate(opts *RootOptions, flags *ConfigFlags, logPath string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := flags.resolve(cmd)
	if err != nil {
		return f.Fail("invalid configuration", err)
	}
	log, err := readLog(cmd, logPath)
	if err != nil {
		return f.Fail("invalid log", err)
	}
	f.VerboseLog("read %d event(s) from %s", log.Len(), logPath)

	return f.Success(ValidationResult{
		Valid:                 true,
		Config:                cfg,
		Traces:                len(log.Traces()),
		Events:                log.Len(),
		Components:            log.Components(),
		ComponentSetDiversity: log.ComponentSetDiversity(),
	})
}
