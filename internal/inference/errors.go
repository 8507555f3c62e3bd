package inference

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes per-component inference failures.
type ErrorCode string

const (
	// ErrCodeEngine indicates the engine failed or returned an unusable model.
	ErrCodeEngine ErrorCode = "INFERENCE_ENGINE"

	// ErrCodeTimeout indicates the per-component deadline expired.
	ErrCodeTimeout ErrorCode = "INFERENCE_TIMEOUT"

	// ErrCodeCanceled indicates the pipeline run was cancelled before the
	// component finished.
	ErrCodeCanceled ErrorCode = "INFERENCE_CANCELED"
)

// Error is a failure attributed to one component's inference.
type Error struct {
	Code      ErrorCode
	Component string
	Message   string

	// TraceID is set when the failure concerns one submitted trace,
	// e.g. the returned model rejects it.
	TraceID string

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (component=%s", e.Code, e.Message, e.Component)
	if e.TraceID != "" {
		msg += ", trace=" + e.TraceID
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsEngineError returns true if err is an engine failure.
func IsEngineError(err error) bool {
	return hasCode(err, ErrCodeEngine)
}

// IsTimeout returns true if err is a per-component timeout.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsCanceled returns true if err is a cancelled inference.
func IsCanceled(err error) bool {
	return hasCode(err, ErrCodeCanceled)
}

// ComponentOf returns the component an inference error is attributed to.
func ComponentOf(err error) (string, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Component, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// NewEngineError creates an engine failure for component.
func NewEngineError(component, message string, err error) *Error {
	return &Error{Code: ErrCodeEngine, Component: component, Message: message, Err: err}
}

// NewCanceledError creates a cancellation error for component.
func NewCanceledError(component string, err error) *Error {
	return &Error{Code: ErrCodeCanceled, Component: component, Message: "inference cancelled", Err: err}
}
