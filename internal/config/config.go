// Package config holds the pipeline configuration surface and its file
// formats.
//
// Values are layered: Default, then a YAML or CUE file, then command-line
// overrides. CUE files are unified with an embedded schema before decoding so
// range and enum violations are reported with file positions.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// Policy decides what happens when a component fails.
type Policy string

const (
	// FailFast aborts the run on the first error.
	FailFast Policy = "fail_fast"

	// BestEffort keeps going and returns the best model achievable plus every
	// error encountered.
	BestEffort Policy = "best_effort"
)

// Engine names.
const (
	EngineKTails  = "ktails"
	EngineCommand = "command"
)

// Defaults.
const (
	DefaultGeneralizationLevel = 2
	DefaultTimeout             = 30 * time.Minute
)

// ErrCodeInvalidConfig marks configuration errors.
const ErrCodeInvalidConfig = "INVALID_CONFIG"

// Error is a configuration problem, optionally tied to a file and key.
type Error struct {
	Code    string
	File    string
	Key     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	if e.Key != "" {
		b.WriteString(e.Key)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidConfig returns true if err is a configuration error.
func IsInvalidConfig(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Config is the orchestrator's configuration.
type Config struct {
	GeneralizationLevel int           `json:"generalization_level"`
	WorkerBudget        int           `json:"worker_budget"`
	PerComponentTimeout time.Duration `json:"per_component_timeout"`
	FailurePolicy       Policy        `json:"failure_policy"`
	PostMergeCollapse   bool          `json:"post_merge_collapse"`
	Engine              string        `json:"engine"`
	EngineCommand       []string      `json:"engine_command,omitempty"`
	VerifySoundness     bool          `json:"verify_soundness"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GeneralizationLevel: DefaultGeneralizationLevel,
		WorkerBudget:        runtime.NumCPU(),
		PerComponentTimeout: DefaultTimeout,
		FailurePolicy:       FailFast,
		Engine:              EngineKTails,
		VerifySoundness:     true,
	}
}

// Validate checks ranges and enums.
func (c Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return &Error{Code: ErrCodeInvalidConfig, Key: key, Message: fmt.Sprintf(format, args...)}
	}
	if c.GeneralizationLevel < 0 || c.GeneralizationLevel > 5 {
		return invalid("generalization_level", "%d outside [0, 5]", c.GeneralizationLevel)
	}
	if c.WorkerBudget < 1 {
		return invalid("worker_budget", "must be at least 1, got %d", c.WorkerBudget)
	}
	if c.PerComponentTimeout < 0 {
		return invalid("per_component_timeout", "must not be negative, got %s", c.PerComponentTimeout)
	}
	switch c.FailurePolicy {
	case FailFast, BestEffort:
	default:
		return invalid("failure_policy", "unknown policy %q (want fail_fast or best_effort)", c.FailurePolicy)
	}
	switch c.Engine {
	case EngineKTails:
	case EngineCommand:
		if len(c.EngineCommand) == 0 {
			return invalid("engine_command", "required when engine is %q", EngineCommand)
		}
	default:
		return invalid("engine", "unknown engine %q (want ktails or command)", c.Engine)
	}
	return nil
}

// file is the on-disk form. Pointers distinguish unset keys from zero values.
type file struct {
	GeneralizationLevel *int     `yaml:"generalization_level" json:"generalization_level,omitempty"`
	WorkerBudget        *int     `yaml:"worker_budget" json:"worker_budget,omitempty"`
	PerComponentTimeout *string  `yaml:"per_component_timeout" json:"per_component_timeout,omitempty"`
	FailurePolicy       *string  `yaml:"failure_policy" json:"failure_policy,omitempty"`
	PostMergeCollapse   *bool    `yaml:"post_merge_collapse" json:"post_merge_collapse,omitempty"`
	Engine              *string  `yaml:"engine" json:"engine,omitempty"`
	EngineCommand       []string `yaml:"engine_command" json:"engine_command,omitempty"`
	VerifySoundness     *bool    `yaml:"verify_soundness" json:"verify_soundness,omitempty"`
}

func (f file) apply(c *Config) error {
	if f.GeneralizationLevel != nil {
		c.GeneralizationLevel = *f.GeneralizationLevel
	}
	if f.WorkerBudget != nil {
		c.WorkerBudget = *f.WorkerBudget
	}
	if f.PerComponentTimeout != nil {
		d, err := ParseTimeout(*f.PerComponentTimeout)
		if err != nil {
			return &Error{Code: ErrCodeInvalidConfig, Key: "per_component_timeout", Message: err.Error(), Err: err}
		}
		c.PerComponentTimeout = d
	}
	if f.FailurePolicy != nil {
		c.FailurePolicy = Policy(*f.FailurePolicy)
	}
	if f.PostMergeCollapse != nil {
		c.PostMergeCollapse = *f.PostMergeCollapse
	}
	if f.Engine != nil {
		c.Engine = *f.Engine
	}
	if f.EngineCommand != nil {
		c.EngineCommand = append([]string(nil), f.EngineCommand...)
	}
	if f.VerifySoundness != nil {
		c.VerifySoundness = *f.VerifySoundness
	}
	return nil
}

// ParseTimeout parses a duration. "0" and "off" disable the timeout.
func ParseTimeout(s string) (time.Duration, error) {
	switch strings.TrimSpace(s) {
	case "0", "off", "none":
		return 0, nil
	}
	return time.ParseDuration(strings.TrimSpace(s))
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Code: ErrCodeInvalidConfig, File: path, Message: "cannot read config file", Err: err}
	}
	return Parse(path, data, Default())
}

// Parse decodes data, chosen by the file extension of name, on top of base.
func Parse(name string, data []byte, base Config) (Config, error) {
	var (
		f   file
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".cue":
		f, err = decodeCUE(name, data)
	case ".yaml", ".yml", "":
		f, err = decodeYAML(name, data)
	default:
		return Config{}, &Error{Code: ErrCodeInvalidConfig, File: name, Message: "unsupported config format (want .yaml, .yml or .cue)"}
	}
	if err != nil {
		return Config{}, err
	}

	cfg := base
	cfg.EngineCommand = append([]string(nil), base.EngineCommand...)
	if err := f.apply(&cfg); err != nil {
		setFile(err, name)
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		setFile(err, name)
		return Config{}, err
	}
	return cfg, nil
}

func setFile(err error, name string) {
	var ce *Error
	if errors.As(err, &ce) && ce.File == "" {
		ce.File = name
	}
}

func decodeYAML(name string, data []byte) (file, error) {
	var f file
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return file{}, &Error{Code: ErrCodeInvalidConfig, File: name, Message: err.Error(), Err: err}
	}
	return f, nil
}

func decodeCUE(name string, data []byte) (file, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return file{}, &Error{Code: ErrCodeInvalidConfig, Message: "embedded schema: " + err.Error(), Err: err}
	}

	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return file{}, cueError(name, err)
	}
	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return file{}, cueError(name, err)
	}

	var f file
	if err := unified.Decode(&f); err != nil {
		return file{}, cueError(name, err)
	}
	return f, nil
}

func cueError(name string, err error) error {
	msg := strings.TrimSpace(cueerrors.Details(err, nil))
	return &Error{Code: ErrCodeInvalidConfig, File: name, Message: msg, Err: err}
}

// Overrides are command-line settings. Nil fields leave the config alone.
type Overrides struct {
	GeneralizationLevel *int
	WorkerBudget        *int
	PerComponentTimeout *time.Duration
	FailurePolicy       *Policy
	PostMergeCollapse   *bool
	Engine              *string
	EngineCommand       []string
}

// Apply layers o over c and validates the result.
func (c Config) Apply(o Overrides) (Config, error) {
	if o.GeneralizationLevel != nil {
		c.GeneralizationLevel = *o.GeneralizationLevel
	}
	if o.WorkerBudget != nil {
		c.WorkerBudget = *o.WorkerBudget
	}
	if o.PerComponentTimeout != nil {
		c.PerComponentTimeout = *o.PerComponentTimeout
	}
	if o.FailurePolicy != nil {
		c.FailurePolicy = *o.FailurePolicy
	}
	if o.PostMergeCollapse != nil {
		c.PostMergeCollapse = *o.PostMergeCollapse
	}
	if o.Engine != nil {
		c.Engine = *o.Engine
	}
	if o.EngineCommand != nil {
		c.EngineCommand = append([]string(nil), o.EngineCommand...)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
