// Package core provides core types and interfaces for the LLM gateway.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory groups error codes by where the failure originated
type ErrorCategory string

const (
	// CategoryConfig covers registry and vault mutation failures
	CategoryConfig ErrorCategory = "config_error"
	// CategoryResolution covers failures mapping a request onto an adapter
	CategoryResolution ErrorCategory = "resolution_error"
	// CategoryUpstream covers failures reported by or talking to a provider
	CategoryUpstream ErrorCategory = "upstream_error"
	// CategoryTranslation covers schema mapping failures
	CategoryTranslation ErrorCategory = "translation_error"
	// CategoryInvalidRequest covers malformed caller payloads
	CategoryInvalidRequest ErrorCategory = "invalid_request_error"
	// CategoryRateLimit covers gateway-side endpoint rate limits
	CategoryRateLimit ErrorCategory = "rate_limit_error"
	// CategoryInternal covers gateway bugs and unexpected failures
	CategoryInternal ErrorCategory = "internal_error"
)

// ErrorCode is the machine-readable error code returned to callers
type ErrorCode string

const (
	CodeNotFound              ErrorCode = "not_found"
	CodeAlreadyExists         ErrorCode = "already_exists"
	CodeConflict              ErrorCode = "conflict"
	CodeCapabilityMismatch    ErrorCode = "capability_mismatch"
	CodeInvalidArgument       ErrorCode = "invalid_argument"
	CodeEndpointNotFound      ErrorCode = "endpoint_not_found"
	CodeCredentialMissing     ErrorCode = "credential_missing"
	CodeCapabilityUnsupported ErrorCode = "capability_unsupported"
	CodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	CodeUpstreamRejected      ErrorCode = "upstream_rejected"
	CodeUpstreamTimeout       ErrorCode = "upstream_timeout"
	CodeTranslation           ErrorCode = "translation_error"
	CodeRateLimited           ErrorCode = "rate_limited"
	CodeInvalidRequest        ErrorCode = "invalid_request"
	CodeInternal              ErrorCode = "internal_error"
)

var codeCategories = map[ErrorCode]ErrorCategory{
	CodeNotFound:              CategoryConfig,
	CodeAlreadyExists:         CategoryConfig,
	CodeConflict:              CategoryConfig,
	CodeCapabilityMismatch:    CategoryConfig,
	CodeInvalidArgument:       CategoryConfig,
	CodeEndpointNotFound:      CategoryResolution,
	CodeCredentialMissing:     CategoryResolution,
	CodeCapabilityUnsupported: CategoryResolution,
	CodeUpstreamUnavailable:   CategoryUpstream,
	CodeUpstreamRejected:      CategoryUpstream,
	CodeUpstreamTimeout:       CategoryUpstream,
	CodeTranslation:           CategoryTranslation,
	CodeRateLimited:           CategoryRateLimit,
	CodeInvalidRequest:        CategoryInvalidRequest,
	CodeInternal:              CategoryInternal,
}

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Category   ErrorCategory `json:"type"`
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code"`
	Provider   string        `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// NewError creates a GatewayError whose category is derived from code
func NewError(code ErrorCode, message string, err error) *GatewayError {
	category, ok := codeCategories[code]
	if !ok {
		category = CategoryInternal
	}
	return &GatewayError{Category: category, Code: code, Message: message, Err: err}
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is matches another GatewayError by code, so errors.Is(err, ErrEndpointNotFound) works.
func (e *GatewayError) Is(target error) bool {
	var t *GatewayError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// IsUpstream reports whether the failure came from a provider rather than the gateway
func (e *GatewayError) IsUpstream() bool {
	return e.Category == CategoryUpstream
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Code {
	case CodeNotFound, CodeEndpointNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeCapabilityMismatch, CodeInvalidArgument, CodeCapabilityUnsupported, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeCredentialMissing:
		return http.StatusFailedDependency
	case CodeTranslation:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamRejected:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Category,
		"code":    e.Code,
		"message": e.Message,
	}
	if e.Provider != "" {
		body["provider"] = e.Provider
	}
	return map[string]interface{}{"error": body}
}

// Sentinel values for errors.Is comparisons; only the code is compared.
var (
	ErrNotFound              = &GatewayError{Code: CodeNotFound}
	ErrAlreadyExists         = &GatewayError{Code: CodeAlreadyExists}
	ErrConflict              = &GatewayError{Code: CodeConflict}
	ErrCapabilityMismatch    = &GatewayError{Code: CodeCapabilityMismatch}
	ErrEndpointNotFound      = &GatewayError{Code: CodeEndpointNotFound}
	ErrCredentialMissing     = &GatewayError{Code: CodeCredentialMissing}
	ErrCapabilityUnsupported = &GatewayError{Code: CodeCapabilityUnsupported}
	ErrUpstreamUnavailable   = &GatewayError{Code: CodeUpstreamUnavailable}
	ErrUpstreamRejected      = &GatewayError{Code: CodeUpstreamRejected}
	ErrUpstreamTimeout       = &GatewayError{Code: CodeUpstreamTimeout}
	ErrTranslation           = &GatewayError{Code: CodeTranslation}
	ErrRateLimited           = &GatewayError{Code: CodeRateLimited}
	ErrInvalidArgument       = &GatewayError{Code: CodeInvalidArgument}
	ErrInvalidRequest        = &GatewayError{Code: CodeInvalidRequest}
	ErrInternal              = &GatewayError{Code: CodeInternal}
)

// NewNotFoundError creates a config NotFound error (404)
func NewNotFoundError(message string) *GatewayError {
	return NewError(CodeNotFound, message, nil)
}

// NewAlreadyExistsError creates a config AlreadyExists error (409)
func NewAlreadyExistsError(message string) *GatewayError {
	return NewError(CodeAlreadyExists, message, nil)
}

// NewConflictError creates a config Conflict error (409)
func NewConflictError(message string) *GatewayError {
	return NewError(CodeConflict, message, nil)
}

// NewInvalidArgumentError creates a config validation error (400)
func NewInvalidArgumentError(message string, err error) *GatewayError {
	return NewError(CodeInvalidArgument, message, err)
}

// NewCapabilityMismatchError reports a provider/model pair no adapter supports
func NewCapabilityMismatchError(provider ProviderKind, message string) *GatewayError {
	e := NewError(CodeCapabilityMismatch, message, nil)
	e.Provider = string(provider)
	return e
}

// NewEndpointNotFoundError creates a resolution error for an unknown endpoint (404)
func NewEndpointNotFoundError(name string) *GatewayError {
	return NewError(CodeEndpointNotFound, fmt.Sprintf("endpoint %q not found", name), nil)
}

// NewCredentialMissingError creates a resolution error for a dangling credential reference
func NewCredentialMissingError(message string) *GatewayError {
	return NewError(CodeCredentialMissing, message, nil)
}

// NewCapabilityUnsupportedError reports an operation the provider kind cannot serve
func NewCapabilityUnsupportedError(provider ProviderKind, capability Capability) *GatewayError {
	e := NewError(CodeCapabilityUnsupported,
		fmt.Sprintf("provider %q does not support %s", provider, capability), nil)
	e.Provider = string(provider)
	return e
}

// NewTranslationError creates a schema mapping error (422)
func NewTranslationError(provider string, message string) *GatewayError {
	e := NewError(CodeTranslation, message, nil)
	e.Provider = provider
	return e
}

// NewRateLimitedError creates an endpoint rate limit error (429)
func NewRateLimitedError(endpoint string) *GatewayError {
	return NewError(CodeRateLimited, fmt.Sprintf("rate limit exceeded for endpoint %q", endpoint), nil)
}

// NewUpstreamUnavailableError reports a transport failure or provider outage (502)
func NewUpstreamUnavailableError(provider string, message string, err error) *GatewayError {
	e := NewError(CodeUpstreamUnavailable, message, err)
	e.Provider = provider
	return e
}

// NewUpstreamTimeoutError reports a provider call that exceeded its bounded wait (504)
func NewUpstreamTimeoutError(provider string, message string, err error) *GatewayError {
	e := NewError(CodeUpstreamTimeout, message, err)
	e.Provider = provider
	return e
}

// NewUpstreamRejectedError reports a provider client error, keeping its status code
func NewUpstreamRejectedError(provider string, statusCode int, message string, err error) *GatewayError {
	e := NewError(CodeUpstreamRejected, message, err)
	e.Provider = provider
	e.StatusCode = statusCode
	return e
}

// NewInvalidRequestError reports a malformed caller payload (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return NewError(CodeInvalidRequest, message, err)
}

// NewInternalError wraps an unexpected gateway failure (500)
func NewInternalError(message string, err error) *GatewayError {
	return NewError(CodeInternal, message, err)
}

// ParseProviderError parses an error response from a provider and returns an appropriate GatewayError
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Message string `json:"message"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil {
		switch {
		case errorResponse.Error.Message != "":
			message = errorResponse.Error.Message
		case errorResponse.Message != "":
			message = errorResponse.Message
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return NewUpstreamTimeoutError(provider, message, originalErr)
	case statusCode >= 400 && statusCode < 500:
		return NewUpstreamRejectedError(provider, statusCode, message, originalErr)
	default:
		return NewUpstreamUnavailableError(provider, message, originalErr)
	}
}

// ClassifyTransportError maps an error from issuing an outbound call onto the
// upstream taxonomy. A cancelled caller context is passed through unchanged.
func ClassifyTransportError(provider string, err error) error {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewUpstreamTimeoutError(provider, "upstream call timed out", err)
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return NewUpstreamTimeoutError(provider, "upstream call timed out", err)
	}
	return NewUpstreamUnavailableError(provider, "failed to reach provider: "+err.Error(), err)
}

// CodeOf returns the error code carried by err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the router may retry after err.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUpstreamUnavailable, CodeUpstreamTimeout:
		return true
	}
	return false
}

// AsGatewayError converts any error into a GatewayError, wrapping unknown
// errors as internal failures.
func AsGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return NewInternalError("an unexpected error occurred", err)
}
