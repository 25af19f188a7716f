package llm

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a classification failure.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindRateLimit  ErrorKind = "rate_limit"
	ErrorKindParse      ErrorKind = "parse"
	ErrorKindClient     ErrorKind = "client"
)

// Error is the provider-neutral error type surfaced by this package.
// Every failure that leaves the classification layer is one of these;
// unknown provider errors are wrapped into the client kind so callers
// never see untyped failures.
type Error struct {
	Kind          ErrorKind
	Message       string
	CorrelationID string
	Model         string
	Retryable     bool
	StatusCode    int
	Cause         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	model := e.Model
	if model == "" {
		model = "unknown model"
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s", model, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("[%s] %s", model, e.Message)
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError reports malformed or out-of-bound input. Never retried.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}

// NewTimeoutError reports that a provider or search call exceeded its deadline.
func NewTimeoutError(message, correlationID, model string, cause error) *Error {
	return &Error{
		Kind:          ErrorKindTimeout,
		Message:       message,
		CorrelationID: correlationID,
		Model:         model,
		Retryable:     true,
		Cause:         cause,
	}
}

// NewRateLimitError reports backend throttling (HTTP 429 and equivalents).
func NewRateLimitError(message, correlationID, model string, cause error) *Error {
	return &Error{
		Kind:          ErrorKindRateLimit,
		Message:       message,
		CorrelationID: correlationID,
		Model:         model,
		Retryable:     true,
		StatusCode:    429,
		Cause:         cause,
	}
}

// NewParseError reports malformed or schema-non-conforming model output.
// Never retried.
func NewParseError(message, correlationID, model string, cause error) *Error {
	return &Error{
		Kind:          ErrorKindParse,
		Message:       message,
		CorrelationID: correlationID,
		Model:         model,
		Cause:         cause,
	}
}

// NewClientError is the catch-all for configuration errors, missing
// credentials, and unexpected provider failures.
func NewClientError(message, correlationID, model string, cause error) *Error {
	return &Error{
		Kind:          ErrorKindClient,
		Message:       message,
		CorrelationID: correlationID,
		Model:         model,
		Cause:         cause,
	}
}

// KindOf returns the error kind, or ErrorKindClient for foreign errors.
func KindOf(err error) ErrorKind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return ErrorKindClient
}

func isKind(err error, kind ErrorKind) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind == kind
	}
	return false
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool { return isKind(err, ErrorKindValidation) }

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool { return isKind(err, ErrorKindTimeout) }

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool { return isKind(err, ErrorKindRateLimit) }

// IsParseError checks if an error is a parse error.
func IsParseError(err error) bool { return isKind(err, ErrorKindParse) }

// IsRetryable checks whether an error is eligible for another attempt.
// Foreign error types are never retryable; providers must map errors to
// *Error before the retry predicate inspects them.
func IsRetryable(err error) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Retryable
	}
	return false
}
