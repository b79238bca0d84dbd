// SPDX-License-Identifier: Apache-2.0
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
)

// HTTPProvider talks to an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	name     string
	model    string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider creates a provider for one endpoint/model pair.
func NewHTTPProvider(name, model, endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &HTTPProvider{
		name:     name,
		model:    model,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.name }

// Model implements Provider.
func (p *HTTPProvider) Model() string { return p.model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *HTTPProvider) buildRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	model := p.model
	if req.ModelHint != "" {
		model = req.ModelHint
	}
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return httpReq, nil
}

// statusError maps a provider HTTP status to the taxonomy so the fallback
// classifier sees AUTH / RATE_LIMIT / SERVER_ERROR distinctly.
func (p *HTTPProvider) statusError(status int, body []byte) error {
	msg := fmt.Sprintf("provider %s returned %d", p.name, status)
	switch {
	case status == 401 || status == 403:
		return errors.New(errors.CodeUnauthorized, msg, nil).WithContext("body", string(body))
	case status == 429:
		return errors.New(errors.CodeRateLimit, msg, nil)
	case status >= 500:
		return errors.New(errors.CodeBackendHTTP, msg, nil).WithStatus(status).WithRecoverable(true)
	default:
		return errors.New(errors.CodeBackendHTTP, msg, nil).WithStatus(status)
	}
}

// Complete implements Provider.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (string, int, int, error) {
	httpReq, err := p.buildRequest(ctx, req, false)
	if err != nil {
		return "", 0, 0, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, 0, errors.New(errors.CodeTimeout, "provider call cancelled", err).
				WithContext("provider", p.name)
		}
		return "", 0, 0, errors.New(errors.CodeBackendUnavailable, "provider call failed", err).
			WithContext("provider", p.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, 0, p.statusError(resp.StatusCode, body)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, errors.New(errors.CodeBackendHTTP, "decoding provider response failed", err).
			WithContext("provider", p.name)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, errors.New(errors.CodeBackendHTTP, "provider returned no choices", nil).
			WithContext("provider", p.name)
	}
	return out.Choices[0].Message.Content, out.Usage.PromptTokens, out.Usage.CompletionTokens, nil
}

// CompleteStream implements StreamingProvider over SSE lines
// ("data: {...}" terminated by "data: [DONE]").
func (p *HTTPProvider) CompleteStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	httpReq, err := p.buildRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "provider stream failed", err).
			WithContext("provider", p.name)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, p.statusError(resp.StatusCode, body)
	}

	chunks := make(chan StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Err: ctx.Err()}
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				chunks <- StreamChunk{Done: true}
				return
			}

			var event chatResponse
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue // tolerate malformed keepalive lines
			}
			if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
				chunks <- StreamChunk{Content: event.Choices[0].Delta.Content}
			}
		}
		if err := scanner.Err(); err != nil {
			chunks <- StreamChunk{Err: err}
		}
	}()

	return chunks, nil
}

var _ StreamingProvider = (*HTTPProvider)(nil)
