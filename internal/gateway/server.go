// SPDX-License-Identifier: Apache-2.0
// Package gateway wires the HTTP surface: liveness, metrics, health and
// the read-only /tws/* proxy that fronts the backend through the cache
// hierarchy and the tws_api circuit breaker.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/graph"
	"github.com/netover/hwav5-sub002/pkg/health"
	"github.com/netover/hwav5-sub002/pkg/llm"
	"github.com/netover/hwav5-sub002/pkg/metrics"
	"github.com/netover/hwav5-sub002/pkg/resilience"
	"github.com/netover/hwav5-sub002/pkg/telemetry"
)

// ProxyBackend is the raw-path slice of the backend client.
type ProxyBackend interface {
	Raw(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
}

// Cache is the slice of the cache hierarchy the proxy uses.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
}

// Config tunes the proxy path.
type Config struct {
	// ProxyTimeout bounds one backend call. Default 30s.
	ProxyTimeout time.Duration

	// ProxyRetries is the retry budget for recoverable backend errors.
	// Zero disables retries.
	ProxyRetries int

	// CacheTTL is the proxy response lifetime; 0 uses the cache default.
	CacheTTL time.Duration
}

// Server assembles the router from its explicit dependencies.
type Server struct {
	cfg      Config
	backend  ProxyBackend
	cache    Cache
	breakers *resilience.Registry
	registry *metrics.Registry
	health   *health.Orchestrator
	graphs   *graph.Service
	llm      *llm.FallbackService
	logger   *slog.Logger

	proxyRequests *metrics.Counter
}

// WithLLM mounts the /ai/complete route backed by the fallback chain.
func (s *Server) WithLLM(svc *llm.FallbackService) *Server {
	s.llm = svc
	return s
}

// New creates the server. cache, health and graphs may be nil; the
// corresponding features degrade gracefully.
func New(cfg Config, b ProxyBackend, c Cache, breakers *resilience.Registry,
	reg *metrics.Registry, orch *health.Orchestrator, graphs *graph.Service,
	logger *slog.Logger) *Server {

	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = 30 * time.Second
	}
	if cfg.ProxyRetries < 0 {
		cfg.ProxyRetries = 0
	}
	if reg == nil {
		reg = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		backend:  b,
		cache:    c,
		breakers: breakers,
		registry: reg,
		health:   orch,
		graphs:   graphs,
		logger:   logger,
		proxyRequests: reg.Counter("proxy_requests_total",
			"Proxy requests by outcome", []string{"outcome"}),
	}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withCorrelationID)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", telemetry.LivenessHandler())
	r.Get("/metrics", telemetry.MetricsHandler(s.registry))
	if s.health != nil {
		r.Get("/health", telemetry.HealthHandler(s.health))
	}

	r.Get("/tws/*", s.handleProxy)

	if s.graphs != nil {
		r.Route("/graph", func(r chi.Router) {
			r.Get("/job/{id}", s.handleGraph)
			r.Get("/job/{id}/impact", s.handleImpact)
			r.Get("/stats", s.handleGraphStats)
		})
	}

	if s.llm != nil {
		r.Post("/ai/complete", s.handleComplete)
	}
	return r
}

// handleComplete runs one completion through the provider chain.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req llm.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "invalid request body", err))
		return
	}
	if req.Prompt == "" {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "prompt is required", nil))
		return
	}
	resp, err := s.llm.Complete(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, resp)
}

// writeError renders the client-facing error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ge := errors.AsGatewayError(err)
	correlation := correlationFrom(r.Context())

	s.logger.ErrorContext(r.Context(), "request failed",
		"code", string(ge.Code), "error", err, "correlation_id", correlation)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.StatusCode)
	_ = json.NewEncoder(w).Encode(struct {
		Error         string `json:"error"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}{
		Error:         string(ge.Code),
		Message:       ge.Message,
		CorrelationID: correlation,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	force := r.URL.Query().Get("force_refresh") == "true"

	g, err := s.graphs.DependencyGraph(r.Context(), jobID, depth, force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, struct {
		Job       string   `json:"job"`
		Nodes     []string `json:"nodes"`
		NodeCount int      `json:"node_count"`
		EdgeCount int      `json:"edge_count"`
	}{jobID, g.Nodes(), g.NodeCount(), g.EdgeCount()})
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	g, err := s.graphs.DependencyGraph(r.Context(), jobID, 0, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, graph.ImpactAnalysis(g, jobID))
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.graphs.GetCacheStats())
}
