package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsValidationError(t *testing.T) {
	err := NewValidationError("payment text is empty")
	if !IsValidationError(err) {
		t.Error("Expected IsValidationError to return true for validation error")
	}

	regularErr := NewClientError("some error", "", "", nil)
	if IsValidationError(regularErr) {
		t.Error("Expected IsValidationError to return false for non-validation error")
	}
}

func TestIsTimeoutError(t *testing.T) {
	err := NewTimeoutError("request timed out", "corr-1", "model-a", nil)
	if !IsTimeoutError(err) {
		t.Error("Expected IsTimeoutError to return true for timeout error")
	}
	if IsTimeoutError(errors.New("plain")) {
		t.Error("Expected IsTimeoutError to return false for foreign error")
	}
}

func TestIsRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", "corr-1", "model-a", nil)
	if !IsRateLimitError(err) {
		t.Error("Expected IsRateLimitError to return true for rate limit error")
	}
	if err.StatusCode != 429 {
		t.Errorf("Expected status code 429, got %d", err.StatusCode)
	}

	regularErr := NewClientError("some error", "", "", nil)
	if IsRateLimitError(regularErr) {
		t.Error("Expected IsRateLimitError to return false for non-rate-limit error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewRateLimitError("rate limit", "", "", nil)) {
		t.Error("Expected rate limit errors to be retryable")
	}
	if !IsRetryable(NewTimeoutError("timeout", "", "", nil)) {
		t.Error("Expected timeout errors to be retryable")
	}
	if IsRetryable(NewValidationError("bad input")) {
		t.Error("Expected validation errors to be non-retryable")
	}
	if IsRetryable(NewParseError("bad output", "", "", nil)) {
		t.Error("Expected parse errors to be non-retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("Expected foreign errors to be non-retryable")
	}
}

func TestErrorMessageFormat(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewClientError("request failed", "corr-1", "model-a", cause)

	want := "[model-a] request failed: connection refused"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	noModel := NewClientError("request failed", "", "", nil)
	want = "[unknown model] request failed"
	if noModel.Error() != want {
		t.Errorf("Expected %q, got %q", want, noModel.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewParseError("invalid JSON", "", "model-a", cause)
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the wrapped cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var lerr *Error
	if !errors.As(wrapped, &lerr) {
		t.Fatal("Expected errors.As to find *Error through wrapping")
	}
	if lerr.Kind != ErrorKindParse {
		t.Errorf("Expected parse kind, got %s", lerr.Kind)
	}
}

func TestKindOf(t *testing.T) {
	if kind := KindOf(NewValidationError("x")); kind != ErrorKindValidation {
		t.Errorf("Expected validation kind, got %s", kind)
	}
	if kind := KindOf(errors.New("plain")); kind != ErrorKindClient {
		t.Errorf("Expected client kind for foreign errors, got %s", kind)
	}
}
