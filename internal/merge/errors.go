package merge

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes merge failures.
type ErrorCode string

const (
	// ErrCodeUnresolvedBoundary indicates a witness pair whose endpoint
	// component has no model, so the hand-off cannot be stitched.
	ErrCodeUnresolvedBoundary ErrorCode = "UNRESOLVED_BOUNDARY"

	// ErrCodeInvariantViolation indicates the merge produced a model that
	// lost a transition of its inputs. Always fatal.
	ErrCodeInvariantViolation ErrorCode = "MERGE_INVARIANT_VIOLATION"
)

// UnresolvedBoundaryError reports one witness pair that could not be stitched.
type UnresolvedBoundaryError struct {
	Code      ErrorCode
	TraceID   string
	FromSeq   int64
	ToSeq     int64
	Component string
	Message   string
}

func (e *UnresolvedBoundaryError) Error() string {
	return fmt.Sprintf("%s: %s (trace=%s, from_seq=%d, to_seq=%d, component=%s)",
		e.Code, e.Message, e.TraceID, e.FromSeq, e.ToSeq, e.Component)
}

// InvariantViolationError reports a merged model that lost behavior of its
// inputs.
type InvariantViolationError struct {
	Code    ErrorCode
	Message string

	// Edge is the transition that was lost, if any.
	Edge *Edge

	// TraceID is the observed trace the merged model rejects, if any.
	TraceID string
}

func (e *InvariantViolationError) Error() string {
	switch {
	case e.Edge != nil:
		return fmt.Sprintf("%s: %s (edge %s)", e.Code, e.Message, e.Edge)
	case e.TraceID != "":
		return fmt.Sprintf("%s: %s (trace=%s)", e.Code, e.Message, e.TraceID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnresolvedBoundary returns true if err is an UnresolvedBoundaryError.
func IsUnresolvedBoundary(err error) bool {
	var ube *UnresolvedBoundaryError
	return errors.As(err, &ube)
}

// IsInvariantViolation returns true if err is an InvariantViolationError.
func IsInvariantViolation(err error) bool {
	var ive *InvariantViolationError
	return errors.As(err, &ive)
}
