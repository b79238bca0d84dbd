// SPDX-License-Identifier: Apache-2.0
// Package backend implements the read-only JSON-over-HTTP client for the
// workload-automation REST API (engine, model, current plan). The client
// performs no caching and no retries; callers wrap it with the cache
// hierarchy and resilience primitives as needed.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/metrics"
)

const apiPrefix = "/twsd/api/v2/"

// Config holds the connection parameters for one engine.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	EngineName  string
	EngineOwner string
	TrustEnv    bool
	Timeout     time.Duration
	PoolSize    int
}

// Client is the read-only backend client. It owns its connection pool and
// must be closed on shutdown.
type Client struct {
	cfg       Config
	http      *http.Client
	transport *http.Transport

	latency *metrics.Histogram
	total   *metrics.Counter
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Test hook.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a backend client for cfg, registering its metrics in
// reg.
func NewClient(cfg Config, reg *metrics.Registry, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.CodeConfig, "backend base_url is required", nil)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if reg == nil {
		reg = metrics.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		IdleConnTimeout:     90 * time.Second,
	}
	if !cfg.TrustEnv {
		transport.Proxy = nil
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		latency: reg.Histogram("backend_request_latency_seconds",
			"Backend request wall-clock duration", []string{"endpoint"}),
		total: reg.Counter("backend_request_total",
			"Backend requests by endpoint and status", []string{"endpoint", "status"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// endpointToken normalizes a path for metric labels: slashes become
// underscores, the leading slash is stripped.
func endpointToken(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", "_")
}

// get performs GET {base}/twsd/api/v2/{path}?{params} with basic auth,
// returning the JSON body verbatim on 2xx.
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	token := endpointToken(path)
	timer := c.latency.With(map[string]string{"endpoint": token}).Time()
	defer timer.Stop()

	u := strings.TrimSuffix(c.cfg.BaseURL, "/") + apiPrefix + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.count(token, "error")
		return nil, errors.New(errors.CodeInvalidInput, "building backend request failed", err).
			WithContext("path", path)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.count(token, "error")
		return nil, errors.New(errors.CodeBackendUnavailable, "backend request failed", err).
			WithContext("endpoint", token)
	}
	defer resp.Body.Close()

	c.count(token, strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "reading backend response failed", err).
			WithContext("endpoint", token)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ge := errors.New(errors.CodeBackendHTTP,
			fmt.Sprintf("backend returned %d", resp.StatusCode), nil).
			WithStatus(resp.StatusCode).
			WithContext("endpoint", token)
		// 5xx responses are retryable and count against the breaker.
		ge.Recoverable = resp.StatusCode >= 500
		return nil, ge
	}

	if !json.Valid(body) {
		return nil, errors.New(errors.CodeBackendHTTP, "backend returned invalid JSON", nil).
			WithContext("endpoint", token)
	}
	return json.RawMessage(body), nil
}

// Raw performs a GET on an arbitrary API path. The gateway's one-to-one
// proxy routes use it after validating the path against the allowlist.
func (c *Client) Raw(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return c.get(ctx, strings.TrimPrefix(path, "/"), params)
}

func (c *Client) count(endpoint, status string) {
	c.total.With(map[string]string{"endpoint": endpoint, "status": status}).Inc()
}

// clampLimit bounds limit to [1,1000] with a default of 50.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// validateDepth checks the optional depth parameter; 0 means "omit, use
// the server default".
func validateDepth(depth int) error {
	if depth == 0 {
		return nil
	}
	if depth < 1 || depth > 5 {
		return errors.New(errors.CodeInvalidInput, "depth must be in [1,5]", nil).
			WithContext("depth", depth)
	}
	return nil
}

func depthParams(depth int) url.Values {
	p := url.Values{}
	if depth != 0 {
		p.Set("depth", strconv.Itoa(depth))
	}
	return p
}
