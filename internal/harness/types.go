package harness

import (
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/partition"
	"github.com/roach88/weave/internal/pipeline"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Codes lists the error codes the run reported, recovered errors first
	// and then the fatal error if any.
	Codes []string `json:"codes,omitempty"`

	// Partition is the split of the scenario log, nil for a malformed log.
	Partition *partition.Result `json:"-"`

	// Run is the pipeline result, nil when the run aborted.
	Run *pipeline.Result `json:"-"`

	// Model is the merged model as read back from the store.
	Model *merge.GlobalModel `json:"-"`

	// Err is the fatal pipeline error, if any.
	Err error `json:"-"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError records a failed check.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
