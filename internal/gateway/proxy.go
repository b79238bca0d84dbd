// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/resilience"
)

// proxyPatterns is the one-to-one allowlist of backend paths exposed
// under /tws/. A {} segment matches any single path element. Literal
// patterns come before their wildcard siblings so plan/job/count is not
// swallowed by plan/job/{}.
var proxyPatterns = []string{
	"engine/info",
	"engine/configuration",
	"model/user",
	"model/group",
	"model/jobdefinition",
	"model/jobdefinition/{}",
	"model/jobstream",
	"model/jobstream/{}",
	"model/workstation",
	"model/workstation/{}",
	"plan/job",
	"plan/job/count",
	"plan/job/issues",
	"plan/job/joblog",
	"plan/job/{}",
	"plan/job/{}/predecessors",
	"plan/job/{}/successors",
	"plan/job/{}/model",
	"plan/job/{}/model/description",
	"plan/jobstream",
	"plan/jobstream/count",
	"plan/jobstream/{}",
	"plan/jobstream/{}/predecessors",
	"plan/jobstream/{}/successors",
	"plan/jobstream/{}/model/description",
	"plan/resource",
	"plan/resource/{}",
	"plan/folder/objects-count",
	"plan/consumed-jobs/runs",
}

// allowedParams are the only query parameters forwarded to the backend.
var allowedParams = map[string]struct{}{
	"query": {}, "folder": {}, "status": {}, "limit": {},
	"depth": {}, "key": {}, "jobName": {},
}

func pathAllowed(path string) bool {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, pattern := range proxyPatterns {
		if matchPattern(strings.Split(pattern, "/"), segments) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if p == "{}" {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if p != segments[i] {
			return false
		}
	}
	return true
}

// sanitizeParams keeps only the allowlisted query parameters, clamping
// limit to [1,1000] (default 50 is the backend's own default) and
// validating depth.
func sanitizeParams(in url.Values) (url.Values, error) {
	out := url.Values{}
	for key, values := range in {
		if _, ok := allowedParams[key]; !ok || len(values) == 0 {
			continue
		}
		value := values[0]
		switch key {
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.New(errors.CodeInvalidInput, "limit must be an integer", err)
			}
			if n < 1 {
				n = 1
			}
			if n > 1000 {
				n = 1000
			}
			value = strconv.Itoa(n)
		case "depth":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > 5 {
				return nil, errors.New(errors.CodeInvalidInput, "depth must be in [1,5]", err)
			}
		}
		out.Set(key, value)
	}
	return out, nil
}

// handleProxy serves one backend path through the cache and the tws_api
// circuit breaker.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(chi.URLParam(r, "*"), "/")
	if !pathAllowed(path) {
		s.proxyRequests.With(map[string]string{"outcome": "rejected"}).Inc()
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "unknown backend path", nil).
			WithStatus(http.StatusNotFound).
			WithContext("path", path))
		return
	}

	params, err := sanitizeParams(r.URL.Query())
	if err != nil {
		s.proxyRequests.With(map[string]string{"outcome": "rejected"}).Inc()
		s.writeError(w, r, err)
		return
	}

	cacheKey := "proxy:" + path
	if encoded := params.Encode(); encoded != "" {
		cacheKey += "?" + encoded
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKey); ok {
			if body, ok := v.(string); ok {
				s.proxyRequests.With(map[string]string{"outcome": "cache_hit"}).Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "hit")
				_, _ = w.Write([]byte(body))
				return
			}
		}
	}

	breaker := s.breakers.Get("tws_api", resilience.DefaultBreakerConfig())
	retry := resilience.RetryPolicy{
		MaxRetries:      s.cfg.ProxyRetries,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}

	body, err := resilience.ExecuteResult(r.Context(), breaker, retry, s.cfg.ProxyTimeout,
		func(ctx context.Context) (json.RawMessage, error) {
			return s.backend.Raw(ctx, path, params)
		})
	if err != nil {
		s.proxyRequests.With(map[string]string{"outcome": "error"}).Inc()
		s.writeError(w, r, err)
		return
	}

	if s.cache != nil {
		if cerr := s.cache.Set(cacheKey, string(body), s.cfg.CacheTTL); cerr != nil {
			s.logger.WarnContext(r.Context(), "proxy cache write failed",
				"key", cacheKey, "error", cerr)
		}
	}

	s.proxyRequests.With(map[string]string{"outcome": "success"}).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "miss")
	_, _ = w.Write(body)
}
