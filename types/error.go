package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Configuration errors: fatal to the single evaluation, never retried
// automatically, surfaced to the user who authored the metric.
const (
	ErrConfigInvalid     ErrorCode = "CONFIG_INVALID"
	ErrUnknownMetricType ErrorCode = "UNKNOWN_METRIC_TYPE"
	ErrFormulaInvalid    ErrorCode = "FORMULA_INVALID"
)

// Transient I/O errors: retryable by the caller's retry policy.
const (
	ErrStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrSandboxUnavailable  ErrorCode = "SANDBOX_UNAVAILABLE"
)

// Export and job errors.
const (
	ErrHistoryMalformed ErrorCode = "HISTORY_MALFORMED"
	ErrSandboxTimeout   ErrorCode = "SANDBOX_TIMEOUT"
	ErrJobNotFound      ErrorCode = "JOB_NOT_FOUND"
	ErrJobConflict      ErrorCode = "JOB_CONFLICT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	TraceID   string    `json:"trace_id,omitempty"`
	MetricID  string    `json:"metric_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithTrace attaches the trace id the error occurred in.
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithMetric attaches the metric definition id the error occurred for.
func (e *Error) WithMetric(metricID string) *Error {
	e.MetricID = metricID
	return e
}

// IsConfigError reports whether err is a metric-configuration error, as
// opposed to a transient failure. Configuration errors must never be
// retried; they are surfaced to the metric's author instead.
func IsConfigError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case ErrConfigInvalid, ErrUnknownMetricType, ErrFormulaInvalid:
		return true
	}
	return false
}

// IsRetryable reports whether err carries a retryable classification.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
