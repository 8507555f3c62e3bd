package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/eventlog"
)

// Scenario is one conformance case: a log, a configuration and the
// properties the inferred model must have.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Config holds configuration keys in the same form as a config file.
	// Unset keys keep their defaults.
	Config yaml.Node `yaml:"config,omitempty"`

	// Traces lists "component:label" steps per trace. Sequence indices are
	// assigned in listing order, one trace after another.
	Traces []TraceSpec `yaml:"traces,omitempty"`

	// Events lists raw events with explicit sequence indices, for
	// interleaved logs. Mutually exclusive with Traces.
	Events []eventlog.Event `yaml:"events,omitempty"`

	// FailComponents makes the engine fail for the named components.
	FailComponents []string `yaml:"fail_components,omitempty"`

	// RunID fixes the run id. Defaults to "scenario-<name>".
	RunID string `yaml:"run_id,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// TraceSpec is one trace written as steps.
type TraceSpec struct {
	ID    string   `yaml:"id"`
	Steps []string `yaml:"steps"`
}

// Assertion checks one property of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Component and Slices are used by partition.
	Component string     `yaml:"component,omitempty"`
	Slices    [][]string `yaml:"slices,omitempty"`

	// Pairs are "A:a2 -> B:b1" hand-offs, used by witness.
	Pairs []string `yaml:"pairs,omitempty"`

	// Components is used by components.
	Components []string `yaml:"components,omitempty"`

	// Count is used by sync_edges and nodes.
	Count *int `yaml:"count,omitempty"`

	// Codes are error codes in report order, used by errors.
	Codes []string `yaml:"codes,omitempty"`

	// Labels is a label sequence, used by accepts and rejects.
	Labels []string `yaml:"labels,omitempty"`
}

// Assertion types.
const (
	AssertPartition  = "partition"
	AssertWitness    = "witness"
	AssertComponents = "components"
	AssertSyncEdges  = "sync_edges"
	AssertNodes      = "nodes"
	AssertErrors     = "errors"
	AssertAccepts    = "accepts"
	AssertRejects    = "rejects"
)

// LoadScenario reads and validates a scenario file. Unknown keys are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Traces) > 0 && len(s.Events) > 0 {
		return fmt.Errorf("traces and events are mutually exclusive")
	}
	for i, tr := range s.Traces {
		if tr.ID == "" {
			return fmt.Errorf("traces[%d]: id is required", i)
		}
		if len(tr.Steps) == 0 {
			return fmt.Errorf("traces[%d]: steps must be non-empty", i)
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertPartition:
		if a.Component == "" {
			return fmt.Errorf("partition requires component")
		}
	case AssertWitness:
		for _, p := range a.Pairs {
			if _, _, err := splitPair(p); err != nil {
				return err
			}
		}
	case AssertComponents, AssertErrors:
	case AssertSyncEdges, AssertNodes:
		if a.Count == nil {
			return fmt.Errorf("%s requires count", a.Type)
		}
	case AssertAccepts, AssertRejects:
		if a.Labels == nil {
			return fmt.Errorf("%s requires labels", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// splitPair parses "A:a2 -> B:b1".
func splitPair(p string) (from, to string, err error) {
	parts := strings.Split(p, "->")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed pair %q (want \"C:label -> C:label\")", p)
	}
	from, to = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if !strings.Contains(from, ":") || !strings.Contains(to, ":") {
		return "", "", fmt.Errorf("malformed pair %q (want \"C:label -> C:label\")", p)
	}
	return from, to, nil
}

// config layers the scenario's config block over the defaults.
func (s *Scenario) config() (config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to re-encode config: %w", err)
	}
	return config.Parse(s.Name+".yaml", data, config.Default())
}
