// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/metrics"
)

// DependencyFetcher is the slice of the backend client the graph builder
// needs.
type DependencyFetcher interface {
	PlanJobPredecessors(ctx context.Context, jobID string, depth int) (json.RawMessage, error)
	PlanJobSuccessors(ctx context.Context, jobID string, depth int) (json.RawMessage, error)
}

// ServiceConfig tunes the graph service.
type ServiceConfig struct {
	// TTL bounds the lifetime of a cached graph. Default 5m.
	TTL time.Duration

	// MaxDepth caps the BFS expansion depth. Default 5.
	MaxDepth int

	// TemporalRingSize bounds per-job observation history. Default 1000.
	TemporalRingSize int
}

type cacheEntry struct {
	graph     *Graph
	createdAt time.Time
	scopeKey  string
}

// Service builds dependency graphs on demand, caches them under a TTL and
// hosts the temporal store and edge verifier that outlive any one graph.
type Service struct {
	fetcher DependencyFetcher
	cfg     ServiceConfig
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group

	temporal *TemporalStore
	verifier *Verifier

	builds *metrics.Counter
	cycles *metrics.Counter

	now func() time.Time
}

// NewService creates a graph service over the given backend fetcher.
func NewService(fetcher DependencyFetcher, cfg ServiceConfig, reg *metrics.Registry, logger *slog.Logger) *Service {
	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 5
	}
	if reg == nil {
		reg = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
		temporal: NewTemporalStore(cfg.TemporalRingSize, reg),
		verifier: NewVerifier(),
		builds: reg.Counter("graph_builds_total",
			"Dependency graph builds by source", []string{"source"}),
		cycles: reg.Counter("graph_cycles_detected_total",
			"Critical-path queries that found a cycle", nil),
		now: time.Now,
	}
}

// Temporal returns the shared temporal store.
func (s *Service) Temporal() *TemporalStore { return s.temporal }

// Verifier returns the shared edge verifier.
func (s *Service) Verifier() *Verifier { return s.verifier }

func cacheKey(jobID string, depth int) string {
	return fmt.Sprintf("job:%s:depth:%d", jobID, depth)
}

// DependencyGraph returns the graph around jobID expanded to depth,
// serving from the TTL cache unless forceRefresh is set. Concurrent
// requests for the same key share one build.
func (s *Service) DependencyGraph(ctx context.Context, jobID string, depth int, forceRefresh bool) (*Graph, error) {
	if jobID == "" {
		return nil, errors.New(errors.CodeInvalidInput, "job id is required", nil)
	}
	if depth <= 0 || depth > s.cfg.MaxDepth {
		depth = s.cfg.MaxDepth
	}
	key := cacheKey(jobID, depth)

	if !forceRefresh {
		if g, ok := s.cached(key); ok {
			s.builds.With(map[string]string{"source": "cache"}).Inc()
			return g, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent build may have landed.
		if !forceRefresh {
			if g, ok := s.cached(key); ok {
				return g, nil
			}
		}
		g, err := s.build(ctx, jobID, depth)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[key] = cacheEntry{graph: g, createdAt: s.now(), scopeKey: key}
		s.mu.Unlock()
		s.builds.With(map[string]string{"source": "backend"}).Inc()
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Graph), nil
}

func (s *Service) cached(key string) (*Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok || s.now().Sub(entry.createdAt) >= s.cfg.TTL {
		return nil, false
	}
	return entry.graph, true
}

// build runs the bounded bidirectional BFS. Expansion errors on non-root
// nodes are logged and skipped; only an unreachable root fails the build.
func (s *Service) build(ctx context.Context, root string, depth int) (*Graph, error) {
	g := New()
	g.AddNode(root)
	now := s.now()

	type frontierItem struct {
		id        string
		remaining int
	}
	visited := map[string]struct{}{root: {}}
	frontier := []frontierItem{{id: root, remaining: depth}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.remaining <= 0 {
			continue
		}

		preds, succs, err := s.neighbors(ctx, cur.id)
		if err != nil {
			if cur.id == root {
				return nil, errors.New(errors.CodeGraphBuild,
					fmt.Sprintf("root job %s is unreachable", root), err)
			}
			s.logger.WarnContext(ctx, "graph expansion skipped node",
				"job", cur.id, "error", err)
			continue
		}

		for _, p := range preds {
			g.AddEdge(p, cur.id, RelationDependsOn, ConfidenceCoOccurrence, nil, now)
			if _, seen := visited[p]; !seen {
				visited[p] = struct{}{}
				frontier = append(frontier, frontierItem{id: p, remaining: cur.remaining - 1})
			}
		}
		for _, n := range succs {
			g.AddEdge(cur.id, n, RelationDependsOn, ConfidenceCoOccurrence, nil, now)
			if _, seen := visited[n]; !seen {
				visited[n] = struct{}{}
				frontier = append(frontier, frontierItem{id: n, remaining: cur.remaining - 1})
			}
		}
	}
	return g, nil
}

func (s *Service) neighbors(ctx context.Context, jobID string) (preds, succs []string, err error) {
	rawPreds, err := s.fetcher.PlanJobPredecessors(ctx, jobID, 1)
	if err != nil {
		return nil, nil, err
	}
	rawSuccs, err := s.fetcher.PlanJobSuccessors(ctx, jobID, 1)
	if err != nil {
		return nil, nil, err
	}
	return parseJobIDs(rawPreds), parseJobIDs(rawSuccs), nil
}

// parseJobIDs extracts job identifiers from the backend's dependency
// payloads, which vary by engine: a plain string array, an object array
// keyed by id/name/jobName, or either wrapped under "items".
func parseJobIDs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var wrapper struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Items) > 0 {
		raw = wrapper.Items
	}

	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		return strs
	}

	var objs []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil
	}
	var out []string
	for _, obj := range objs {
		for _, key := range []string{"id", "name", "jobName", "key"} {
			if v, ok := obj[key]; ok {
				var id string
				if json.Unmarshal(v, &id) == nil && id != "" {
					out = append(out, id)
					break
				}
			}
		}
	}
	return out
}

// CriticalPath runs the longest-path analysis, counting cycle detections.
func (s *Service) CriticalPath(g *Graph) []string {
	path, cyclic := CriticalPath(g)
	if cyclic {
		s.cycles.Inc()
		s.logger.Warn("critical path query found a cycle")
		return nil
	}
	return path
}

// ClearCache drops every cached graph.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

// CacheStats describes the graph cache.
type CacheStats struct {
	Total      int     `json:"total"`
	Valid      int     `json:"valid"`
	Expired    int     `json:"expired"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// GetCacheStats returns the current cache shape.
func (s *Service) GetCacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := CacheStats{Total: len(s.cache), TTLSeconds: s.cfg.TTL.Seconds()}
	now := s.now()
	for _, entry := range s.cache {
		if now.Sub(entry.createdAt) >= s.cfg.TTL {
			stats.Expired++
		} else {
			stats.Valid++
		}
	}
	return stats
}
