package eventlog

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes log validation failures.
type ErrorCode string

const (
	// ErrCodeMalformedLog indicates that input violates the GlobalLog invariants.
	ErrCodeMalformedLog ErrorCode = "MALFORMED_LOG"
)

// MalformedLogError reports an input record that violates the log invariants.
// It is not recoverable; callers surface it immediately.
type MalformedLogError struct {
	Code    ErrorCode
	Message string

	// TraceID and Seq locate the offending event when known.
	TraceID string
	Seq     int64

	// Line is the 1-based input line for file readers, 0 otherwise.
	Line int

	Err error
}

func (e *MalformedLogError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TraceID != "" {
		msg = fmt.Sprintf("%s (trace=%s, seq=%d)", msg, e.TraceID, e.Seq)
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *MalformedLogError) Unwrap() error {
	return e.Err
}

// IsMalformedLog returns true if err is or wraps a *MalformedLogError.
func IsMalformedLog(err error) bool {
	var me *MalformedLogError
	return errors.As(err, &me)
}

func malformed(traceID string, seq int64, format string, args ...any) *MalformedLogError {
	return &MalformedLogError{
		Code:    ErrCodeMalformedLog,
		Message: fmt.Sprintf(format, args...),
		TraceID: traceID,
		Seq:     seq,
	}
}
