package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrStreamClosed     = errors.New("stream closed")
)

// ErrorCode is the closed vocabulary surfaced to callers for every provider failure.
type ErrorCode string

const (
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeNetworkError       ErrorCode = "NETWORK_ERROR"
	CodeBadRequest         ErrorCode = "BAD_REQUEST"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
	CodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	CodeInsufficientQuota  ErrorCode = "INSUFFICIENT_QUOTA"
	CodeAPIKeyMissing      ErrorCode = "API_KEY_MISSING"
	CodeUnknown            ErrorCode = "UNKNOWN"
)

// Retryable reports whether a caller may reasonably retry after this code.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeRateLimit, CodeTimeout, CodeNetworkError, CodeServiceUnavailable, CodeInternalError:
		return true
	default:
		return false
	}
}

// ProviderError is the only error type returned across the provider boundary.
type ProviderError struct {
	Message  string
	Code     ErrorCode
	Status   int
	Provider string
	Details  any
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError builds a ProviderError without an HTTP status.
func NewProviderError(provider string, code ErrorCode, message string) *ProviderError {
	return &ProviderError{
		Message:  message,
		Code:     code,
		Provider: provider,
	}
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns the code of a ProviderError in the chain, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	if pe, ok := AsProviderError(err); ok {
		return pe.Code
	}
	return CodeUnknown
}
