package harness

import (
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // assertion type
	Expected string // human-readable expected outcome
	Actual   string // human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertPartition:
			err = assertPartition(result, a)
		case AssertWitness:
			err = assertWitness(result, a)
		case AssertComponents:
			err = assertComponents(result, a)
		case AssertSyncEdges:
			err = assertSyncEdges(result, a)
		case AssertNodes:
			err = assertNodes(result, a)
		case AssertErrors:
			err = assertErrors(result, a)
		case AssertAccepts:
			err = assertAcceptance(result, a, true)
		case AssertRejects:
			err = assertAcceptance(result, a, false)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertPartition(r *Result, a Assertion) error {
	if r.Partition == nil {
		return &AssertionError{Type: a.Type, Expected: "a partitioned log", Actual: "log was rejected"}
	}
	var got [][]string
	if p, ok := r.Partition.Partitions[a.Component]; ok {
		got = p.Labels()
	}
	if !sameSlices(got, a.Slices) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("partition %s = %v", a.Component, a.Slices),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertWitness(r *Result, a Assertion) error {
	if r.Partition == nil {
		return &AssertionError{Type: a.Type, Expected: "a partitioned log", Actual: "log was rejected"}
	}
	got := make([]string, len(r.Partition.Witness.Pairs))
	for i, p := range r.Partition.Witness.Pairs {
		got[i] = fmt.Sprintf("%s:%s -> %s:%s", p.From.ComponentID, p.From.Label, p.To.ComponentID, p.To.Label)
	}
	want := make([]string, len(a.Pairs))
	for i, p := range a.Pairs {
		from, to, _ := splitPair(p)
		want[i] = from + " -> " + to
	}
	if !reflect.DeepEqual(got, want) {
		return &AssertionError{Type: a.Type, Expected: formatList(want), Actual: formatList(got)}
	}
	return nil
}

func assertComponents(r *Result, a Assertion) error {
	var got []string
	if r.Partition != nil {
		got = r.Partition.Components
	}
	if !sameStrings(got, a.Components) {
		return &AssertionError{Type: a.Type, Expected: formatList(a.Components), Actual: formatList(got)}
	}
	return nil
}

func assertSyncEdges(r *Result, a Assertion) error {
	if r.Model == nil {
		return noModel(a, r)
	}
	got := len(r.Model.SyncEdges())
	if got != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d synchronization edges", *a.Count),
			Actual:   fmt.Sprintf("%d: %v", got, r.Model.SyncEdges()),
		}
	}
	return nil
}

func assertNodes(r *Result, a Assertion) error {
	if r.Model == nil {
		return noModel(a, r)
	}
	got := len(r.Model.Nodes())
	if got != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d nodes", *a.Count),
			Actual:   fmt.Sprintf("%d nodes", got),
		}
	}
	return nil
}

func assertErrors(r *Result, a Assertion) error {
	if !sameStrings(r.Codes, a.Codes) {
		return &AssertionError{Type: a.Type, Expected: formatList(a.Codes), Actual: formatList(r.Codes)}
	}
	return nil
}

func assertAcceptance(r *Result, a Assertion, want bool) error {
	if r.Model == nil {
		return noModel(a, r)
	}
	if r.Model.Accepts(a.Labels) != want {
		verb := "accept"
		if !want {
			verb = "reject"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("model to %s %v", verb, a.Labels),
			Actual:   "it did not",
		}
	}
	return nil
}

func noModel(a Assertion, r *Result) error {
	actual := "no model"
	if r.Err != nil {
		actual = fmt.Sprintf("run failed: %v", r.Err)
	}
	return &AssertionError{Type: a.Type, Expected: "a merged model", Actual: actual}
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameSlices(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameStrings(a[i], b[i]) {
			return false
		}
	}
	return true
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	return "[" + strings.Join(items, ", ") + "]"
}
