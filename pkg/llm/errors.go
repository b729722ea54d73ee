package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies LLM provider failures.
type ErrorType string

const (
	ErrorTypeAuth      ErrorType = "auth"       // invalid or missing credentials
	ErrorTypeModel     ErrorType = "model"      // model name not available at the endpoint
	ErrorTypeEndpoint  ErrorType = "endpoint"   // connectivity, 404, or server-side failure
	ErrorTypeRateLimit ErrorType = "rate_limit" // throttled, retryable after backoff
	ErrorTypeQuota     ErrorType = "quota"      // credits or quota exhausted
	ErrorTypeTimeout   ErrorType = "timeout"    // request deadline exceeded
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a classified LLM failure. The raw provider message lives in
// Cause for logs; user-facing text comes from UserSafeMessage only.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure is transient. Backoff loops use
// this to skip permanent failures like bad credentials or a missing model.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// UserSafeMessage returns generic text suitable for end users. Raw provider
// error text must never reach them.
func (e *Error) UserSafeMessage() string {
	switch e.Type {
	case ErrorTypeAuth:
		return "The AI service rejected our credentials. Please contact support."
	case ErrorTypeModel:
		return "The configured AI model is unavailable. Please contact support."
	case ErrorTypeRateLimit:
		return "The AI service is busy right now. Please try again in a moment."
	case ErrorTypeQuota:
		return "The AI service quota has been reached. Please try again later."
	case ErrorTypeTimeout:
		return "The request took too long to complete. Please try again."
	default:
		return "Something went wrong while generating your report. Please try again."
	}
}

// NewError creates a classified LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ClassifyError categorizes a provider error into a structured Error so
// callers handle failures uniformly. Already-classified errors pass through.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	statusCode := 0
	for _, code := range []int{400, 401, 402, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	classified := func(t ErrorType, msg string, retryable bool) *Error {
		e := NewError(t, msg, retryable, err)
		e.StatusCode = statusCode
		return e
	}

	// Authentication (not retryable)
	if strings.Contains(errStr, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") {
		return classified(ErrorTypeAuth, "authentication failed", false)
	}

	// Quota / credit exhaustion (not retryable without intervention)
	if strings.Contains(errStr, "402") || strings.Contains(lower, "insufficient credit") ||
		strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
		return classified(ErrorTypeQuota, "quota exhausted", false)
	}

	// Model not found (config change required)
	if strings.Contains(lower, "model") && (strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")) {
		return classified(ErrorTypeModel, "model not found", false)
	}

	// Endpoint not found
	if strings.Contains(errStr, "404") {
		return classified(ErrorTypeEndpoint, "endpoint not found", false)
	}

	// Connection failures (retryable)
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") {
		return classified(ErrorTypeEndpoint, "connection failed", true)
	}

	// Timeouts and cancellation (retryable)
	if strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "context canceled") {
		return classified(ErrorTypeTimeout, "request timeout", true)
	}

	// Rate limiting (retryable after backoff)
	if strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit") {
		return classified(ErrorTypeRateLimit, "rate limited", true)
	}

	// 5xx server errors (retryable)
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") {
		return classified(ErrorTypeEndpoint, "server error", true)
	}

	return classified(ErrorTypeUnknown, "llm error", false)
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// UserSafeMessage returns user-facing text for any error, classifying it
// first when needed.
func UserSafeMessage(err error) string {
	return ClassifyError(err).UserSafeMessage()
}
