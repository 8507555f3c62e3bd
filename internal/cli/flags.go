package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/store"
)

// ConfigFlags are the configuration flags shared by commands that run
// inference. Flags override the config file, which overrides the defaults.
type ConfigFlags struct {
	File           string
	Generalization int
	Workers        int
	Timeout        string
	Policy         string
	Collapse       bool
	EngineCommand  []string
}

func (f *ConfigFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.File, "config", "", "config file (.yaml, .yml or .cue)")
	fs.IntVar(&f.Generalization, "generalization", config.DefaultGeneralizationLevel, "generalization level 0..5 (0 keeps the observed traces exactly)")
	fs.IntVar(&f.Workers, "workers", 0, "concurrent inference workers (default: CPU count)")
	fs.StringVar(&f.Timeout, "timeout", "", "per-component inference timeout, e.g. 5m (0 disables)")
	fs.StringVar(&f.Policy, "policy", string(config.FailFast), "failure policy (fail_fast|best_effort)")
	fs.BoolVar(&f.Collapse, "collapse", false, "collapse equivalent states across synchronization edges")
	fs.StringSliceVar(&f.EngineCommand, "engine-command", nil, "external inference engine argv (selects the command engine)")
}

// resolve builds the effective configuration. Only flags set on the
// command line override the file.
func (f *ConfigFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.File != "" {
		var err error
		if cfg, err = config.Load(f.File); err != nil {
			return config.Config{}, err
		}
	}

	var o config.Overrides
	changed := cmd.Flags().Changed
	if changed("generalization") {
		o.GeneralizationLevel = &f.Generalization
	}
	if changed("workers") {
		o.WorkerBudget = &f.Workers
	}
	if changed("timeout") {
		d, err := config.ParseTimeout(f.Timeout)
		if err != nil {
			return config.Config{}, &config.Error{
				Code: config.ErrCodeInvalidConfig, Key: "timeout", Message: err.Error(), Err: err,
			}
		}
		o.PerComponentTimeout = &d
	}
	if changed("policy") {
		p := config.Policy(f.Policy)
		o.FailurePolicy = &p
	}
	if changed("collapse") {
		o.PostMergeCollapse = &f.Collapse
	}
	if changed("engine-command") {
		engine := config.EngineCommand
		o.Engine = &engine
		o.EngineCommand = f.EngineCommand
	}
	return cfg.Apply(o)
}

// readLog reads a JSONL or CSV log; "-" reads JSON Lines from stdin.
func readLog(cmd *cobra.Command, path string) (*eventlog.GlobalLog, error) {
	if path == "-" {
		return eventlog.ReadJSONL(cmd.InOrStdin())
	}
	return eventlog.ReadFile(path)
}

// openExistingStore opens a database that must already exist.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
