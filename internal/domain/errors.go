package domain

import (
	"errors"
	"fmt"
)

// FailureKind categorizes pipeline failures. Only transport failures propagate
// to callers; the rest are recovered into well-formed results or swallowed at
// the cache boundary.
type FailureKind string

const (
	// FailureValidation means content was not recognized as an invoice.
	// Recovered locally into a validation_failed result.
	FailureValidation FailureKind = "validation_rejection"

	// FailureExtraction means the model call or response decoding failed.
	// Recovered locally into a failed result.
	FailureExtraction FailureKind = "extraction_failure"

	// FailureCache means the cache store errored. Logged and swallowed;
	// lookups degrade to miss, writes to best-effort.
	FailureCache FailureKind = "cache_failure"

	// FailureTransport means the document bytes could not be fetched. The
	// only kind document processing propagates as a hard error; model call
	// failures there are recovered into failed results instead.
	FailureTransport FailureKind = "transport_failure"
)

// ProcessError is a categorized pipeline error.
type ProcessError struct {
	Kind FailureKind
	Msg  string
	Err  error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// NewProcessError creates a categorized pipeline error.
func NewProcessError(kind FailureKind, msg string, err error) *ProcessError {
	return &ProcessError{Kind: kind, Msg: msg, Err: err}
}

// ErrTransport wraps a failure to reach a remote dependency.
func ErrTransport(msg string, err error) *ProcessError {
	return NewProcessError(FailureTransport, msg, err)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe) && pe.Kind == FailureTransport
}

// ErrEmptyCompletion is returned by the extraction client when the provider
// responds without content.
var ErrEmptyCompletion = errors.New("no content returned from completion")
