package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeUnknown     ErrorType = "unknown"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeServer      ErrorType = "server"
	ErrorTypeMalformed   ErrorType = "malformed_output"
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	ErrorTypeCanceled    ErrorType = "canceled"
)

// Error is a classified provider error.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Model      string
}

func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	parts = append(parts, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable satisfies retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a classified error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

type classifyRule struct {
	errType   ErrorType
	message   string
	retryable bool
	match     func(raw, lower string) bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Rules are checked in order; the first match wins.
var classifyRules = []classifyRule{
	{ErrorTypeAuth, "authentication failed", false, func(raw, lower string) bool {
		return containsAny(raw, "401", "403") || containsAny(lower, "unauthorized", "invalid api key", "authentication_error", "permission_error")
	}},
	{ErrorTypeRateLimited, "rate limited", true, func(raw, lower string) bool {
		return strings.Contains(raw, "429") || containsAny(lower, "rate limit", "rate_limit", "too many requests")
	}},
	{ErrorTypeModel, "model not found", false, func(raw, lower string) bool {
		return strings.Contains(lower, "model") && containsAny(lower, "not found", "does not exist", "not_found_error")
	}},
	{ErrorTypeEndpoint, "endpoint not found", false, func(raw, lower string) bool {
		return strings.Contains(raw, "404")
	}},
	{ErrorTypeEndpoint, "connection failed", true, func(raw, lower string) bool {
		return containsAny(lower, "connection refused", "no such host", "connection reset", "eof")
	}},
	{ErrorTypeTimeout, "request timeout", true, func(raw, lower string) bool {
		return containsAny(lower, "timeout", "deadline exceeded")
	}},
	{ErrorTypeServer, "provider overloaded", true, func(raw, lower string) bool {
		return containsAny(raw, "529") || containsAny(lower, "overloaded")
	}},
	{ErrorTypeServer, "server error", true, func(raw, lower string) bool {
		return containsAny(raw, "500", "502", "503", "504")
	}},
}

var statusCodes = []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529}

// ClassifyError turns any provider error into an *Error. Already-classified
// errors are returned unchanged.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeCanceled, "request canceled", false, err)
	}

	raw := err.Error()
	lower := strings.ToLower(raw)

	statusCode := 0
	for _, code := range statusCodes {
		if strings.Contains(raw, fmt.Sprintf("status code: %d", code)) || strings.Contains(raw, fmt.Sprintf("HTTP %d", code)) {
			statusCode = code
			break
		}
	}

	for _, rule := range classifyRules {
		if rule.match(raw, lower) {
			e := NewError(rule.errType, rule.message, rule.retryable, err)
			e.StatusCode = statusCode
			return e
		}
	}
	e := NewError(ErrorTypeUnknown, "llm error", false, err)
	e.StatusCode = statusCode
	return e
}

// IsRetryable reports whether err is a retryable classified error.
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
