// SPDX-License-Identifier: Apache-2.0
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/metrics"
	"github.com/netover/hwav5-sub002/pkg/resilience"
)

// ChainEntry is one provider in the fallback chain with its attempt
// timeout.
type ChainEntry struct {
	Provider Provider
	Timeout  time.Duration
}

// FallbackConfig configures the fallback service.
type FallbackConfig struct {
	// Primary is the first provider tried.
	Primary ChainEntry

	// FallbackChain is tried in order after the primary.
	FallbackChain []ChainEntry

	// DefaultTimeout applies to entries without their own timeout.
	DefaultTimeout time.Duration

	// MaxRetriesPerProvider bounds retries within one provider.
	MaxRetriesPerProvider int

	// RetryBaseDelay is the initial backoff delay between retries.
	RetryBaseDelay time.Duration
}

// Attempt records one provider attempt for the failure trail.
type Attempt struct {
	Provider string       `json:"provider"`
	Reason   FailureClass `json:"reason"`
	Err      string       `json:"error,omitempty"`
}

// FallbackService routes completions through the provider chain. Each
// provider runs under its own circuit breaker; retries cover only
// TIMEOUT, RATE_LIMIT and SERVER_ERROR; AUTH and CLIENT_ERROR surface
// immediately without falling back.
type FallbackService struct {
	cfg      FallbackConfig
	breakers *resilience.Registry
	logger   *slog.Logger

	requests *metrics.Counter
	fallback *metrics.Counter
	latency  *metrics.Histogram
	tokens   *metrics.Counter
}

// NewFallbackService creates the service. breakers supplies the named
// per-provider circuit breakers (llm_primary, llm_fallback_0, ...).
func NewFallbackService(cfg FallbackConfig, breakers *resilience.Registry, reg *metrics.Registry, logger *slog.Logger) (*FallbackService, error) {
	if cfg.Primary.Provider == nil {
		return nil, errors.New(errors.CodeConfig, "llm primary provider is required", nil)
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if reg == nil {
		reg = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FallbackService{
		cfg:      cfg,
		breakers: breakers,
		logger:   logger,
		requests: reg.Counter("llm_requests_total",
			"LLM requests by provider and outcome", []string{"provider", "outcome"}),
		fallback: reg.Counter("llm_fallback_total",
			"LLM fallbacks by source, target and reason", []string{"from", "to", "reason"}),
		latency: reg.Histogram("llm_latency_seconds",
			"LLM attempt latency by provider", []string{"provider"}),
		tokens: reg.Counter("llm_tokens_total",
			"LLM tokens by direction and provider", []string{"direction", "provider"}),
	}, nil
}

// chain returns the full attempt list: primary first, then the fallbacks.
func (s *FallbackService) chain() []ChainEntry {
	return append([]ChainEntry{s.cfg.Primary}, s.cfg.FallbackChain...)
}

// breakerName maps a chain index to the registered breaker name.
func breakerName(index int) string {
	if index == 0 {
		return "llm_primary"
	}
	return fmt.Sprintf("llm_fallback_%d", index-1)
}

func (s *FallbackService) entryTimeout(e ChainEntry, req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if e.Timeout > 0 {
		return e.Timeout
	}
	return s.cfg.DefaultTimeout
}

func (s *FallbackService) retryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:      s.cfg.MaxRetriesPerProvider,
		BaseDelay:       s.cfg.RetryBaseDelay,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		IsRetryable: func(err error) bool {
			return retryableClass(ClassifyError(err))
		},
	}
}

// Complete runs the request down the chain and returns the first
// successful response annotated with routing information.
func (s *FallbackService) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	entries := s.chain()

	var trail []Attempt
	var lastErr error

	for i, entry := range entries {
		provider := entry.Provider
		breaker := s.breakers.Get(breakerName(i), resilience.DefaultBreakerConfig())

		var content string
		var tokensIn, tokensOut int

		timer := s.latency.With(map[string]string{"provider": provider.Name()}).Time()
		err := resilience.Execute(ctx, breaker, s.retryPolicy(), s.entryTimeout(entry, req),
			func(ctx context.Context) error {
				c, tin, tout, perr := provider.Complete(ctx, req)
				if perr != nil {
					return perr
				}
				content, tokensIn, tokensOut = c, tin, tout
				return nil
			})
		timer.Stop()

		if err == nil {
			s.requests.With(map[string]string{"provider": provider.Name(), "outcome": "success"}).Inc()
			if tokensIn > 0 {
				s.tokens.With(map[string]string{"direction": "in", "provider": provider.Name()}).Add(float64(tokensIn))
			}
			if tokensOut > 0 {
				s.tokens.With(map[string]string{"direction": "out", "provider": provider.Name()}).Add(float64(tokensOut))
			}
			return &Response{
				Content:      content,
				ProviderUsed: provider.Name(),
				ModelUsed:    provider.Model(),
				Attempts:     i + 1,
				WasFallback:  i > 0,
				DurationMs:   time.Since(start).Milliseconds(),
				TokensIn:     tokensIn,
				TokensOut:    tokensOut,
			}, nil
		}

		class := ClassifyError(err)
		lastErr = err
		trail = append(trail, Attempt{Provider: provider.Name(), Reason: class, Err: err.Error()})
		s.requests.With(map[string]string{"provider": provider.Name(), "outcome": string(class)}).Inc()

		// A 4xx from the provider must not be masked by a fallback.
		if class == FailureAuth || class == FailureClientError {
			s.logger.WarnContext(ctx, "llm request failed without fallback",
				"provider", provider.Name(), "class", string(class), "error", err)
			return nil, err
		}

		if i+1 < len(entries) {
			next := entries[i+1].Provider.Name()
			s.fallback.With(map[string]string{
				"from": provider.Name(), "to": next, "reason": string(class),
			}).Inc()
			s.logger.InfoContext(ctx, "llm falling back",
				"from", provider.Name(), "to", next, "reason", string(class))
		}
	}

	ge := errors.New(errors.CodeLLMUnavailable, "llm provider chain exhausted", lastErr).
		WithContext("attempts", trail)
	return nil, ge
}

// CompleteStream starts a stream on the first provider that accepts the
// request. Once a provider has produced any chunk the stream is bound to
// it: a mid-stream error aborts without restarting on another provider.
func (s *FallbackService) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	entries := s.chain()
	var lastErr error

	for i, entry := range entries {
		sp, ok := entry.Provider.(StreamingProvider)
		if !ok {
			continue
		}
		breaker := s.breakers.Get(breakerName(i), resilience.DefaultBreakerConfig())

		src, err := resilience.ExecuteResult(ctx, breaker,
			resilience.RetryPolicy{MaxRetries: 0},
			0, // stream lifetime is unbounded; only establishment is guarded
			func(ctx context.Context) (<-chan StreamChunk, error) {
				return sp.CompleteStream(ctx, req)
			})
		if err == nil {
			s.requests.With(map[string]string{"provider": sp.Name(), "outcome": "stream"}).Inc()
			return src, nil
		}

		class := ClassifyError(err)
		lastErr = err
		if class == FailureAuth || class == FailureClientError {
			return nil, err
		}
		if i+1 < len(entries) {
			s.fallback.With(map[string]string{
				"from": sp.Name(), "to": entries[i+1].Provider.Name(), "reason": string(class),
			}).Inc()
		}
	}

	return nil, errors.New(errors.CodeLLMUnavailable, "no streaming provider available", lastErr)
}
