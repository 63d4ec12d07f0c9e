// Package errors provides the structured error taxonomy shared by the
// execution core. Every failure surfaced out of the core carries a Kind
// (which layer produced it) and a Code (what went wrong).
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with kind, code and context.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

// New creates a new error with the given kind, code, message, and optional cause.
func New(kind Kind, code Code, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Newf creates a new error with a formatted message and no cause.
func Newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind and code so callers can use errors.Is with sentinel values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithCause returns a copy of the error carrying the given cause.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.Cause = cause
	return &clone
}

// Record is the flat representation carried inside a Result's error list.
type Record struct {
	Name    string `json:"name" yaml:"name"`
	Message string `json:"message" yaml:"message"`
	Kind    Kind   `json:"kind" yaml:"kind"`
	Code    Code   `json:"code,omitempty" yaml:"code,omitempty"`
}

// RecordOf builds a Record for the given failure location. Structured errors
// keep their kind and code; anything else is recorded with the fallback kind.
func RecordOf(name string, err error, fallback Kind) Record {
	var se *Error
	if errors.As(err, &se) {
		return Record{Name: name, Message: se.Message, Kind: se.Kind, Code: se.Code}
	}
	return Record{Name: name, Message: err.Error(), Kind: fallback}
}

// KindOf extracts the kind of a structured error, or the fallback.
func KindOf(err error, fallback Kind) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return fallback
}

// CodeOf extracts the code of a structured error, or CodeUnknown.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// Convenience constructors, one per kind.

// NewUtil reports a template, filter or utility failure.
func NewUtil(code Code, message string, cause error) *Error {
	return New(KindUtil, code, message, cause)
}

// NewParam reports an input validation or coercion failure.
func NewParam(code Code, message string, cause error) *Error {
	return New(KindParam, code, message, cause)
}

// NewStage reports a failure originating from stage execution.
func NewStage(code Code, message string, cause error) *Error {
	return New(KindStage, code, message, cause)
}

// NewJob reports a dependency-resolution or strategy aggregation failure.
func NewJob(code Code, message string, cause error) *Error {
	return New(KindJob, code, message, cause)
}

// NewWorkflow reports a timeout, cycle, configuration or aggregate failure.
func NewWorkflow(code Code, message string, cause error) *Error {
	return New(KindWorkflow, code, message, cause)
}

// NewSchedule reports a cron parsing or timezone failure.
func NewSchedule(code Code, message string, cause error) *Error {
	return New(KindSchedule, code, message, cause)
}

// NewResult reports a malformed or inconsistent result tree.
func NewResult(code Code, message string, cause error) *Error {
	return New(KindResult, code, message, cause)
}
