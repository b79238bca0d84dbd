// SPDX-License-Identifier: Apache-2.0
// Package llm provides the LLM provider abstraction and the ordered
// fallback chain that fronts it with circuit breakers, retries and
// per-attempt timeouts.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

// Request encapsulates one completion request.
type Request struct {
	Prompt      string        `json:"prompt"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	ModelHint   string        `json:"model_hint,omitempty"`
	Timeout     time.Duration `json:"-"`
}

// Response is the result of a completion, annotated with routing info.
type Response struct {
	Content      string `json:"content"`
	ProviderUsed string `json:"provider_used"`
	ModelUsed    string `json:"model_used"`
	Attempts     int    `json:"attempts"`
	WasFallback  bool   `json:"was_fallback"`
	DurationMs   int64  `json:"duration_ms"`
	TokensIn     int    `json:"tokens_in,omitempty"`
	TokensOut    int    `json:"tokens_out,omitempty"`
}

// StreamChunk is one element of a streaming completion.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Provider is a single LLM backend.
type Provider interface {
	// Name identifies the provider in metrics and breaker names.
	Name() string

	// Model returns the model the provider serves.
	Model() string

	// Complete sends a completion request and returns the raw content
	// plus token usage when the provider reports it.
	Complete(ctx context.Context, req Request) (content string, tokensIn, tokensOut int, err error)
}

// StreamingProvider is a Provider that can stream chunks.
type StreamingProvider interface {
	Provider

	// CompleteStream yields chunks as a finite sequence; the channel is
	// closed after the Done chunk or the first error.
	CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// FailureClass is the typed classification of a provider failure.
type FailureClass string

const (
	FailureTimeout     FailureClass = "TIMEOUT"
	FailureRateLimit   FailureClass = "RATE_LIMIT"
	FailureAuth        FailureClass = "AUTH"
	FailureServerError FailureClass = "SERVER_ERROR"
	FailureClientError FailureClass = "CLIENT_ERROR"
	FailureCircuitOpen FailureClass = "CIRCUIT_OPEN"
)

// ClassifyError maps an error to its failure class. Unknown errors fall
// into SERVER_ERROR so they stay retryable and eligible for fallback.
func ClassifyError(err error) FailureClass {
	if err == nil {
		return ""
	}
	if ge, ok := err.(*errors.GatewayError); ok {
		switch ge.Code {
		case errors.CodeTimeout:
			return FailureTimeout
		case errors.CodeRateLimit:
			return FailureRateLimit
		case errors.CodeUnauthorized:
			return FailureAuth
		case errors.CodeCircuitOpen:
			return FailureCircuitOpen
		case errors.CodeInvalidInput:
			return FailureClientError
		case errors.CodeBackendHTTP:
			if ge.StatusCode >= 400 && ge.StatusCode < 500 {
				if ge.StatusCode == 401 || ge.StatusCode == 403 {
					return FailureAuth
				}
				if ge.StatusCode == 429 {
					return FailureRateLimit
				}
				return FailureClientError
			}
			return FailureServerError
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return FailureAuth
	}
	return FailureServerError
}

// retryableClass reports whether the class participates in per-provider
// retries. AUTH and CLIENT_ERROR never retry and never fall back.
func retryableClass(class FailureClass) bool {
	switch class {
	case FailureTimeout, FailureRateLimit, FailureServerError:
		return true
	default:
		return false
	}
}
