package pipeline

import (
	"context"
	"errors"

	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/inference"
	"github.com/roach88/weave/internal/merge"
)

// Category is the pipeline-level class of an error.
type Category string

const (
	CategoryMalformed Category = "malformed_log"
	CategoryInference Category = "inference"
	CategoryTimeout   Category = "timeout"
	CategoryCanceled  Category = "canceled"
	CategoryBoundary  Category = "unresolved_boundary"
	CategoryInvariant Category = "invariant_violation"
	CategoryConfig    Category = "config"
	CategoryOther     Category = "other"
)

// Classified describes one error for reporting.
type Classified struct {
	Category Category `json:"category"`
	Code     string   `json:"code"`

	// Component, TraceID and Seq locate the failure where known.
	Component string `json:"component_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	Seq       int64  `json:"sequence_index,omitempty"`

	Message string `json:"message"`
}

// Classify maps err onto the pipeline's error taxonomy.
func Classify(err error) Classified {
	c := Classified{Category: CategoryOther, Code: "ERROR", Message: err.Error()}

	var (
		mle *eventlog.MalformedLogError
		ie  *inference.Error
		ube *merge.UnresolvedBoundaryError
		ive *merge.InvariantViolationError
		ce  *config.Error
	)
	switch {
	case errors.As(err, &mle):
		c.Category = CategoryMalformed
		c.Code = string(mle.Code)
		c.TraceID = mle.TraceID
		c.Seq = mle.Seq
	case errors.As(err, &ie):
		c.Code = string(ie.Code)
		c.Component = ie.Component
		c.TraceID = ie.TraceID
		switch ie.Code {
		case inference.ErrCodeTimeout:
			c.Category = CategoryTimeout
		case inference.ErrCodeCanceled:
			c.Category = CategoryCanceled
		default:
			c.Category = CategoryInference
		}
	case errors.As(err, &ube):
		c.Category = CategoryBoundary
		c.Code = string(ube.Code)
		c.Component = ube.Component
		c.TraceID = ube.TraceID
		c.Seq = ube.FromSeq
	case errors.As(err, &ive):
		c.Category = CategoryInvariant
		c.Code = string(ive.Code)
		c.TraceID = ive.TraceID
	case errors.As(err, &ce):
		c.Category = CategoryConfig
		c.Code = ce.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.Category = CategoryCanceled
		c.Code = string(inference.ErrCodeCanceled)
	}
	return c
}

// Recoverable reports whether an error of category c lets a run continue
// under policy.
func Recoverable(c Category, policy config.Policy) bool {
	if policy != config.BestEffort {
		return false
	}
	switch c {
	case CategoryInference, CategoryTimeout, CategoryCanceled, CategoryBoundary:
		return true
	}
	return false
}
