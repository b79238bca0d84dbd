// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gerrors "github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/llm"
	"github.com/netover/hwav5-sub002/pkg/metrics"
	"github.com/netover/hwav5-sub002/pkg/resilience"
)

type fakeBackend struct {
	body    string
	err     error
	calls   int
	lastRaw struct {
		path   string
		params url.Values
	}
}

func (f *fakeBackend) Raw(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	f.calls++
	f.lastRaw.path = path
	f.lastRaw.params = params
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

type mapCache struct {
	store map[string]interface{}
}

func newMapCache() *mapCache { return &mapCache{store: map[string]interface{}{}} }

func (c *mapCache) Get(key string) (interface{}, bool) {
	v, ok := c.store[key]
	return v, ok
}

func (c *mapCache) Set(key string, value interface{}, ttl time.Duration) error {
	c.store[key] = value
	return nil
}

func newTestServer(b ProxyBackend, c Cache) *Server {
	reg := metrics.NewRegistry()
	breakers := resilience.NewRegistry(resilience.DefaultBreakerConfig())
	return New(Config{ProxyTimeout: time.Second}, b, c, breakers, reg, nil, nil, nil)
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestProxyPassthrough(t *testing.T) {
	b := &fakeBackend{body: `{"engine":"ZOS"}`}
	srv := newTestServer(b, newMapCache())
	router := srv.Router()

	rec := get(t, router, "/tws/engine/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"engine":"ZOS"}` {
		t.Errorf("body not verbatim: %s", rec.Body.String())
	}
	if b.lastRaw.path != "engine/info" {
		t.Errorf("backend path = %q", b.lastRaw.path)
	}
	if rec.Header().Get("X-Cache") != "miss" {
		t.Errorf("first hit should be a miss")
	}
}

func TestProxyCacheHit(t *testing.T) {
	b := &fakeBackend{body: `{"total":5}`}
	srv := newTestServer(b, newMapCache())
	router := srv.Router()

	get(t, router, "/tws/plan/job/count")
	rec := get(t, router, "/tws/plan/job/count")
	if b.calls != 1 {
		t.Errorf("expected one backend call, got %d", b.calls)
	}
	if rec.Header().Get("X-Cache") != "hit" {
		t.Errorf("second request should be served from cache")
	}
	if rec.Body.String() != `{"total":5}` {
		t.Errorf("cached body = %s", rec.Body.String())
	}
}

func TestProxyRejectsUnknownPath(t *testing.T) {
	b := &fakeBackend{body: `{}`}
	srv := newTestServer(b, nil)
	router := srv.Router()

	rec := get(t, router, "/tws/admin/shutdown")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if b.calls != 0 {
		t.Errorf("backend must not be called for unknown paths")
	}

	var body struct {
		Error         string `json:"error"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not json: %v", err)
	}
	if body.Error != string(gerrors.CodeInvalidInput) || body.CorrelationID == "" {
		t.Errorf("error body = %+v", body)
	}
	if rec.Header().Get(CorrelationHeader) != body.CorrelationID {
		t.Errorf("correlation header mismatch")
	}
}

func TestProxyParamSanitization(t *testing.T) {
	b := &fakeBackend{body: `[]`}
	srv := newTestServer(b, nil)
	router := srv.Router()

	rec := get(t, router, "/tws/plan/job?query=APP*&limit=5000&evil=x")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := b.lastRaw.params.Get("limit"); got != "1000" {
		t.Errorf("limit not clamped: %q", got)
	}
	if b.lastRaw.params.Get("evil") != "" {
		t.Errorf("unknown param forwarded")
	}
	if b.lastRaw.params.Get("query") != "APP*" {
		t.Errorf("query param lost")
	}

	rec = get(t, router, "/tws/plan/job/J1/predecessors?depth=9")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid depth status = %d", rec.Code)
	}
}

func TestProxyWildcardSegments(t *testing.T) {
	b := &fakeBackend{body: `{}`}
	srv := newTestServer(b, nil)
	router := srv.Router()

	for _, path := range []string{
		"/tws/plan/job/APP.J1",
		"/tws/plan/job/APP.J1/predecessors?depth=2",
		"/tws/plan/jobstream/S1/model/description",
		"/tws/model/workstation/CPU1",
	} {
		if rec := get(t, router, path); rec.Code != http.StatusOK {
			t.Errorf("%s -> %d", path, rec.Code)
		}
	}
}

func TestProxyBackendErrorMapped(t *testing.T) {
	b := &fakeBackend{err: gerrors.New(gerrors.CodeBackendUnavailable, "connect refused", nil)}
	srv := newTestServer(b, nil)
	router := srv.Router()

	rec := get(t, router, "/tws/engine/info")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != string(gerrors.CodeBackendUnavailable) {
		t.Errorf("error body = %v", body)
	}
}

func TestProxyCircuitOpenFailsFast(t *testing.T) {
	b := &fakeBackend{err: gerrors.New(gerrors.CodeBackendHTTP, "boom", nil).
		WithStatus(500).WithRecoverable(true)}

	reg := metrics.NewRegistry()
	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})
	srv := New(Config{ProxyTimeout: time.Second}, b, nil, breakers, reg, nil, nil, nil)
	router := srv.Router()

	get(t, router, "/tws/engine/info") // trips the breaker
	calls := b.calls

	rec := get(t, router, "/tws/engine/info")
	if b.calls != calls {
		t.Errorf("open breaker must not reach the backend")
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != string(gerrors.CodeCircuitOpen) {
		t.Errorf("expected circuit open error, got %v", body)
	}
}

func TestLivenessAndMetricsRoutes(t *testing.T) {
	srv := newTestServer(&fakeBackend{body: `{}`}, nil)
	router := srv.Router()

	if rec := get(t, router, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	rec := get(t, router, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	var body struct {
		Metrics map[string]json.RawMessage `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Errorf("metrics body invalid: %v", err)
	}
}

type fakeProvider struct {
	content string
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (string, int, int, error) {
	return p.content, 0, 0, nil
}

func TestCompleteRoute(t *testing.T) {
	reg := metrics.NewRegistry()
	breakers := resilience.NewRegistry(resilience.DefaultBreakerConfig())
	svc, err := llm.NewFallbackService(llm.FallbackConfig{
		Primary: llm.ChainEntry{Provider: &fakeProvider{content: "four jobs failed"}},
	}, breakers, reg, nil)
	if err != nil {
		t.Fatalf("fallback service: %v", err)
	}

	srv := newTestServer(&fakeBackend{body: `{}`}, nil).WithLLM(svc)
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ai/complete",
		strings.NewReader(`{"prompt":"summarize the plan"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp llm.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Content != "four jobs failed" || resp.ProviderUsed != "fake" {
		t.Errorf("response = %+v", resp)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ai/complete",
		strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d", rec.Code)
	}
}

func TestCallerCorrelationIDPreserved(t *testing.T) {
	srv := newTestServer(&fakeBackend{body: `{}`}, nil)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/tws/engine/info", nil)
	req.Header.Set(CorrelationHeader, "caller-supplied-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get(CorrelationHeader) != "caller-supplied-id" {
		t.Errorf("caller correlation id lost: %q", rec.Header().Get(CorrelationHeader))
	}
}
