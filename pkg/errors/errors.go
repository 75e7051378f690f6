// Package errors defines unified error types for generation gateway
// operations. All provider-specific failures are mapped onto these kinds so
// the orchestrator can decide between retry, fallback, and termination
// without knowing which backend produced them.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a generation error.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindPIIDetected        Kind = "pii_detected"
	KindContentViolation   Kind = "content_violation"
	KindNoEligibleProvider Kind = "no_eligible_provider"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindProviderTimeout    Kind = "provider_timeout"
	KindProviderTransient  Kind = "provider_transient"
	KindProviderRejected   Kind = "provider_rejected"
	KindDeadlineExceeded   Kind = "deadline_exceeded"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal_error"
)

// GenerationError is the standardized error surfaced by the orchestrator and
// produced by provider adapters. Retryable marks transient failures that the
// orchestrator recovers locally via retry and fallback.
type GenerationError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s)", e.Kind, e.Message, e.Provider)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// HTTPStatusCode returns the status code to surface at the API layer.
func (e *GenerationError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the orchestrator may retry the same provider.
func IsRetryable(err error) bool {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// NewValidationError reports a malformed request, rejected before any side
// effect.
func NewValidationError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewPIIDetectedError reports a BLOCK verdict caused by detected PII.
func NewPIIDetectedError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindPIIDetected,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// NewContentViolationError reports a BLOCK verdict caused by harmful content.
func NewContentViolationError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindContentViolation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// NewNoEligibleProviderError reports that no candidate survived hard
// filtering. Raised before any budget action.
func NewNoEligibleProviderError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindNoEligibleProvider,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewBudgetExceededError reports a hard-mode reservation rejection.
func NewBudgetExceededError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindBudgetExceeded,
		Message:    message,
		StatusCode: http.StatusPaymentRequired,
	}
}

// NewProviderTimeoutError reports an attempt that exceeded its deadline.
// Timeouts are retryable.
func NewProviderTimeoutError(provider, message string) *GenerationError {
	return &GenerationError{
		Kind:       KindProviderTimeout,
		Message:    message,
		Provider:   provider,
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
	}
}

// NewProviderTransientError reports a recoverable backend failure
// (503-equivalent, rate limit, connection reset).
func NewProviderTransientError(provider, message string, statusCode int) *GenerationError {
	if statusCode == 0 {
		statusCode = http.StatusServiceUnavailable
	}
	return &GenerationError{
		Kind:       KindProviderTransient,
		Message:    message,
		Provider:   provider,
		StatusCode: statusCode,
		Retryable:  true,
	}
}

// NewProviderRejectedError reports a non-retryable provider-side rejection,
// e.g. the provider's own content policy. Skips retry and moves straight to
// fallback.
func NewProviderRejectedError(provider, message string, statusCode int) *GenerationError {
	if statusCode == 0 {
		statusCode = http.StatusBadRequest
	}
	return &GenerationError{
		Kind:       KindProviderRejected,
		Message:    message,
		Provider:   provider,
		StatusCode: statusCode,
	}
}

// NewDeadlineExceededError reports that the global per-request deadline
// elapsed mid-flight.
func NewDeadlineExceededError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindDeadlineExceeded,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
	}
}

// NewCancelledError reports external cancellation.
func NewCancelledError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindCancelled,
		Message:    message,
		StatusCode: 499,
	}
}

// NewInternalError reports an unexpected internal failure.
func NewInternalError(message string) *GenerationError {
	return &GenerationError{
		Kind:       KindInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}
