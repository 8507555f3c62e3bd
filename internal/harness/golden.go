package harness

import (
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/weave/internal/canon"
	"github.com/roach88/weave/internal/merge"
)

// GraphSnapshot is the golden form of a scenario's merged model.
type GraphSnapshot struct {
	Scenario string      `json:"scenario"`
	Graph    merge.Graph `json:"graph"`
}

// Snapshot renders the scenario's merged model as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	if result.Model == nil {
		return nil, fmt.Errorf("scenario %s produced no model", name)
	}
	return canon.Marshal(GraphSnapshot{Scenario: name, Graph: result.Model.Graph()})
}

// RunWithGolden runs a scenario and compares its merged graph with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
