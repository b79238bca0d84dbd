// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy for the TWS gateway.
// Every cross-component failure is classified by an ErrorCode so resilience
// predicates, fallback policies and HTTP mapping can act on the class rather
// than on string matching.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies gateway errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeBackendUnavailable indicates a network/DNS/connect/read failure
	// talking to the workload backend. Retryable.
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// CodeBackendHTTP indicates a non-2xx response from the backend.
	// The HTTP status is carried in StatusCode.
	CodeBackendHTTP ErrorCode = "BACKEND_HTTP_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCircuitOpen indicates a circuit breaker refused the call.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// CodeCache indicates a write-through partial failure in the cache
	// hierarchy. Logged, never fatal on the read path.
	CodeCache ErrorCode = "CACHE_ERROR"

	// CodeLLMUnavailable indicates the LLM provider chain was exhausted.
	CodeLLMUnavailable ErrorCode = "LLM_UNAVAILABLE"

	// CodeGraphBuild indicates the graph root node was unreachable.
	CodeGraphBuild ErrorCode = "GRAPH_BUILD_ERROR"

	// CodeRecoveryFailed indicates a component recovery attempt failed.
	CodeRecoveryFailed ErrorCode = "RECOVERY_FAILED"

	// CodeInvalidInput indicates invalid arguments. Programmer error,
	// never retryable and never a breaker failure.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConfig indicates unusable configuration at startup. Fatal.
	CodeConfig ErrorCode = "CONFIGURATION_ERROR"

	// CodeRateLimit indicates rate limiting was triggered upstream.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeUnauthorized indicates authentication or authorization failed
	// against an upstream service.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// GatewayError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type GatewayError struct {
	Code          ErrorCode
	Message       string
	Err           error
	Context       map[string]interface{}
	Recoverable   bool
	StatusCode    int    // HTTP status surfaced to clients
	CorrelationID string // propagated from request entry through logs
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler so errors log structurally and
// match the client-facing body shape {error, message, correlation_id}.
func (e *GatewayError) MarshalJSON() ([]byte, error) {
	out := struct {
		Error         string                 `json:"error"`
		Message       string                 `json:"message"`
		Recoverable   bool                   `json:"recoverable"`
		CorrelationID string                 `json:"correlation_id,omitempty"`
		Context       map[string]interface{} `json:"context,omitempty"`
	}{
		Error:         string(e.Code),
		Message:       e.Message,
		Recoverable:   e.Recoverable,
		CorrelationID: e.CorrelationID,
		Context:       e.Context,
	}
	if e.Err != nil {
		out.Message = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return json.Marshal(out)
}

// New creates a new GatewayError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *GatewayError {
	return &GatewayError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: defaultRecoverable(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *GatewayError) WithContext(key string, value interface{}) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *GatewayError) WithRecoverable(recoverable bool) *GatewayError {
	e.Recoverable = recoverable
	return e
}

// WithStatus overrides the HTTP status carried by the error.
// Returns the error for method chaining.
func (e *GatewayError) WithStatus(status int) *GatewayError {
	e.StatusCode = status
	return e
}

// WithCorrelationID attaches the request correlation ID.
// Returns the error for method chaining.
func (e *GatewayError) WithCorrelationID(id string) *GatewayError {
	e.CorrelationID = id
	return e
}

// AsGatewayError converts err to a *GatewayError, wrapping unknown errors
// as CodeInternal. Returns nil for a nil error.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the ErrorCode of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	ge, ok := err.(*GatewayError)
	return ok && ge.Code == code
}

// RecoverableString returns "true" or "false" for observability labels.
func (e *GatewayError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// defaultRecoverable maps each code to its default retry eligibility.
// Transport failures, timeouts, rate limits and 5xx responses retry;
// 4xx-class failures and programmer errors never do.
func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeBackendUnavailable, CodeTimeout, CodeRateLimit:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to the HTTP status surfaced upstream.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeInvalidInput:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeTimeout:
		return 504
	case CodeRateLimit:
		return 429
	case CodeBackendUnavailable, CodeCircuitOpen, CodeLLMUnavailable:
		return 503
	case CodeGraphBuild:
		return 502
	default:
		return 500
	}
}
