// Package errs provides structured error types and helpers for the pulse pipeline.
package errs

import (
	"errors"
	"strings"
)

// Code identifies a pipeline error category.
type Code string

const (
	// CodeMalformedPayload indicates an undecodable broker payload.
	CodeMalformedPayload Code = "malformed_payload"
	// CodeMissingField indicates a payload missing a required field.
	CodeMissingField Code = "missing_field"
	// CodeBadEnum indicates an unrecognised enumeration value in a payload.
	CodeBadEnum Code = "bad_enum"
	// CodeTransientStore indicates a retryable store failure (connectivity, pool pressure).
	CodeTransientStore Code = "transient_store"
	// CodeFatalStore indicates a non-retryable store failure (schema mismatch, auth).
	CodeFatalStore Code = "fatal_store"
	// CodeUnknownKPI indicates a KPI name outside the allowed set.
	CodeUnknownKPI Code = "unknown_kpi"
	// CodeBroker indicates a log broker failure.
	CodeBroker Code = "broker"
	// CodeConfig indicates invalid process configuration.
	CodeConfig Code = "config"
)

// E captures structured error information produced across the pipeline.
type E struct {
	Code    Code
	Op      string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given code.
func New(code Code, opts ...Option) *E {
	e := &E{Code: code, Op: "", Message: "", cause: nil}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithOp records the operation that produced the error.
func WithOp(op string) Option {
	trimmed := strings.TrimSpace(op)
	return func(e *E) {
		e.Op = trimmed
	}
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause attaches the underlying error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// Error renders the envelope as "op: message (code): cause".
func (e *E) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString("pipeline error")
	}
	b.WriteString(" (")
	b.WriteString(string(e.Code))
	b.WriteString(")")
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *E) Unwrap() error {
	return e.cause
}

// CodeOf extracts the Code from err, or the empty string when err carries no envelope.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransientStore
}

// IsFatal reports whether err must terminate the process.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeFatalStore, CodeBroker, CodeConfig, CodeUnknownKPI:
		return true
	default:
		return false
	}
}

// IsDrop reports whether err describes a payload that should be dropped and logged.
func IsDrop(err error) bool {
	switch CodeOf(err) {
	case CodeMalformedPayload, CodeMissingField, CodeBadEnum:
		return true
	default:
		return false
	}
}
