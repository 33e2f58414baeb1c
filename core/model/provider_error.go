package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into a small set of
// categories suitable for retry and UX decisions.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth indicates authentication/authorization failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"

	// ProviderErrorKindInvalidRequest indicates the request is invalid;
	// retrying without changing it will not succeed.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"

	// ProviderErrorKindRateLimited indicates the provider is throttling
	// requests.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"

	// ProviderErrorKindUnavailable indicates a transient provider failure
	// (5xx, network) where a retry may succeed.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"

	// ProviderErrorKindUnknown indicates an unclassified provider failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider. It crosses
// package boundaries so the agent runner and team workflow can surface
// stable, structured information without parsing provider-specific errors.
type ProviderError struct {
	provider  string
	operation string
	http      int
	kind      ProviderErrorKind
	code      string
	message   string
	retryable bool
	cause     error
}

// NewProviderError constructs a ProviderError. provider and kind are
// required; cause may be nil but should be set to preserve the error chain.
func NewProviderError(provider, operation string, httpStatus int, kind ProviderErrorKind, code, message string, retryable bool, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{
		provider:  provider,
		operation: operation,
		http:      httpStatus,
		kind:      kind,
		code:      code,
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}

// Provider returns the provider identifier (for example, "anthropic").
func (e *ProviderError) Provider() string { return e.provider }

// Operation returns the provider operation name when known.
func (e *ProviderError) Operation() string { return e.operation }

// HTTPStatus returns the provider HTTP status code when available, else 0.
func (e *ProviderError) HTTPStatus() int { return e.http }

// Kind returns the coarse-grained provider error classification.
func (e *ProviderError) Kind() ProviderErrorKind { return e.kind }

// Code returns the provider-specific error code when available.
func (e *ProviderError) Code() string { return e.code }

// Retryable reports whether retrying may succeed without changing the request.
func (e *ProviderError) Retryable() bool { return e.retryable }

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *ProviderError) Unwrap() error { return e.cause }

func (e *ProviderError) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.http > 0 {
		status = fmt.Sprintf("%d ", e.http)
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	return fmt.Sprintf("%s: %s%s %s", e.provider, status, op, msg)
}

// IsRateLimited reports whether err (or any error it wraps) is a rate-limit
// classified ProviderError or the sentinel ErrRateLimited.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.kind == ProviderErrorKindRateLimited
	}
	return false
}
