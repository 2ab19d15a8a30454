package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies generator failures.
type ErrorType int8

const (
	ErrorTypeRateLimit ErrorType = iota
	ErrorTypeTransient
	ErrorTypeEmptyResponse
	ErrorTypeAuth
	ErrorTypeBadPrompt
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified generator error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %s: %v", e.Type, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a classified error without a cause.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// NewErrorWithCause creates a classified error wrapping err.
func NewErrorWithCause(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Err: err, Message: message}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given classification.
func Is(err error, t ErrorType) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Type == t
}

// classify maps a provider error onto an ErrorType. statusCode is 0 when the
// SDK did not expose one.
func classify(provider string, err error, statusCode int) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request canceled")
	}
	if statusCode == 0 {
		statusCode = extractStatusCode(err.Error())
	}

	wrap := func(t ErrorType, msg string) error {
		e := NewErrorWithCause(t, err, provider+": "+msg)
		e.StatusCode = statusCode
		return e
	}

	switch {
	case statusCode == 429:
		return wrap(ErrorTypeRateLimit, "rate limit exceeded")
	case statusCode == 401 || statusCode == 403:
		return wrap(ErrorTypeAuth, "authentication failed")
	case statusCode == 400 || statusCode == 404 || statusCode == 413 || statusCode == 422:
		return wrap(ErrorTypeBadPrompt, "request rejected")
	case statusCode >= 500:
		return wrap(ErrorTypeTransient, "server error")
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota") || strings.Contains(lower, "too many requests"):
		return wrap(ErrorTypeRateLimit, "rate limiting detected")
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection reset") || strings.Contains(lower, "eof"):
		return wrap(ErrorTypeTransient, "network or connection error")
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "api key"):
		return wrap(ErrorTypeAuth, "authentication error")
	default:
		return wrap(ErrorTypeUnknown, "unclassified error")
	}
}

// extractStatusCode finds a three-digit HTTP status after common prefixes.
func extractStatusCode(errStr string) int {
	lower := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status: ", "http ", "code "} {
		idx := strings.Index(lower, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start+3 > len(lower) {
			continue
		}
		n := 0
		ok := true
		for _, c := range lower[start : start+3] {
			if c < '0' || c > '9' {
				ok = false
				break
			}
			n = n*10 + int(c-'0')
		}
		if ok && n >= 100 && n < 600 {
			return n
		}
	}
	return 0
}
