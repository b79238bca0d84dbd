// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	gerrors "github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/metrics"
)

// fakeFetcher serves a static adjacency and can fail selected jobs.
type fakeFetcher struct {
	preds map[string][]string
	succs map[string][]string
	fail  map[string]bool
	calls int
}

func encodeIDs(ids []string) json.RawMessage {
	b, _ := json.Marshal(ids)
	return b
}

func (f *fakeFetcher) PlanJobPredecessors(ctx context.Context, jobID string, depth int) (json.RawMessage, error) {
	f.calls++
	if f.fail[jobID] {
		return nil, gerrors.New(gerrors.CodeBackendUnavailable, "backend down", nil)
	}
	return encodeIDs(f.preds[jobID]), nil
}

func (f *fakeFetcher) PlanJobSuccessors(ctx context.Context, jobID string, depth int) (json.RawMessage, error) {
	if f.fail[jobID] {
		return nil, gerrors.New(gerrors.CodeBackendUnavailable, "backend down", nil)
	}
	return encodeIDs(f.succs[jobID]), nil
}

func newFakeService(f *fakeFetcher, cfg ServiceConfig) (*Service, *metrics.Registry) {
	reg := metrics.NewRegistry()
	return NewService(f, cfg, reg, nil), reg
}

func TestBuildDependencyGraph(t *testing.T) {
	f := &fakeFetcher{
		preds: map[string][]string{"B": {"A"}},
		succs: map[string][]string{"B": {"C"}, "C": {"D"}},
	}
	svc, _ := newFakeService(f, ServiceConfig{MaxDepth: 3})

	g, err := svc.DependencyGraph(context.Background(), "B", 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range []string{"A", "B", "C", "D"} {
		if !g.HasNode(n) {
			t.Errorf("missing node %s", n)
		}
	}
	if _, ok := g.EdgeBetween("A", "B"); !ok {
		t.Errorf("missing predecessor edge A->B")
	}
	if _, ok := g.EdgeBetween("C", "D"); !ok {
		t.Errorf("missing transitive edge C->D")
	}
}

func TestDepthBound(t *testing.T) {
	// Infinite chain: J0 -> J1 -> J2 -> ...
	f := &fakeFetcher{succs: map[string][]string{}}
	for i := 0; i < 50; i++ {
		f.succs[fmt.Sprintf("J%d", i)] = []string{fmt.Sprintf("J%d", i+1)}
	}
	svc, _ := newFakeService(f, ServiceConfig{MaxDepth: 5})

	g, err := svc.DependencyGraph(context.Background(), "J0", 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.HasNode("J3") {
		t.Errorf("expansion exceeded depth 2: %v", g.Nodes())
	}
	if !g.HasNode("J2") {
		t.Errorf("expansion stopped short of depth 2: %v", g.Nodes())
	}
}

func TestGraphCacheTTLAndForceRefresh(t *testing.T) {
	f := &fakeFetcher{succs: map[string][]string{"A": {"B"}}}
	svc, reg := newFakeService(f, ServiceConfig{TTL: time.Minute})

	base := time.Unix(1000, 0)
	svc.now = func() time.Time { return base }

	if _, err := svc.DependencyGraph(context.Background(), "A", 1, false); err != nil {
		t.Fatalf("build: %v", err)
	}
	first := f.calls

	// Within TTL the cache serves.
	if _, err := svc.DependencyGraph(context.Background(), "A", 1, false); err != nil {
		t.Fatalf("cached: %v", err)
	}
	if f.calls != first {
		t.Errorf("cache miss within TTL")
	}

	// force_refresh rebuilds regardless.
	if _, err := svc.DependencyGraph(context.Background(), "A", 1, true); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.calls == first {
		t.Errorf("force refresh did not rebuild")
	}

	// After TTL the entry is stale.
	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	before := f.calls
	if _, err := svc.DependencyGraph(context.Background(), "A", 1, false); err != nil {
		t.Fatalf("stale rebuild: %v", err)
	}
	if f.calls == before {
		t.Errorf("stale entry served past TTL")
	}

	builds := reg.Counter("graph_builds_total", "", []string{"source"})
	if builds.Value(map[string]string{"source": "cache"}) != 1 {
		t.Errorf("expected one cache-served build")
	}
}

func TestPartialExpansionTolerated(t *testing.T) {
	f := &fakeFetcher{
		succs: map[string][]string{"A": {"B", "C"}},
		fail:  map[string]bool{"B": true},
	}
	svc, _ := newFakeService(f, ServiceConfig{MaxDepth: 3})

	g, err := svc.DependencyGraph(context.Background(), "A", 2, false)
	if err != nil {
		t.Fatalf("partial failure must not fail the build: %v", err)
	}
	if !g.HasNode("B") || !g.HasNode("C") {
		t.Errorf("first-level nodes missing: %v", g.Nodes())
	}
}

func TestRootUnreachableFails(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"A": true}}
	svc, _ := newFakeService(f, ServiceConfig{})

	_, err := svc.DependencyGraph(context.Background(), "A", 2, false)
	if !gerrors.IsCode(err, gerrors.CodeGraphBuild) {
		t.Errorf("expected GRAPH_BUILD error, got %v", err)
	}

	if _, err := svc.DependencyGraph(context.Background(), "", 2, false); !gerrors.IsCode(err, gerrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for empty job, got %v", err)
	}
}

func TestCycleMetric(t *testing.T) {
	svc, reg := newFakeService(&fakeFetcher{}, ServiceConfig{})
	g := buildGraph([][2]string{{"A", "B"}, {"B", "A"}})

	if path := svc.CriticalPath(g); path != nil {
		t.Errorf("expected empty path on cycle, got %v", path)
	}
	cycles := reg.Counter("graph_cycles_detected_total", "", nil)
	if cycles.Value(nil) != 1 {
		t.Errorf("cycle metric not incremented")
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	f := &fakeFetcher{succs: map[string][]string{"A": {"B"}, "X": {"Y"}}}
	svc, _ := newFakeService(f, ServiceConfig{TTL: time.Minute})

	base := time.Unix(1000, 0)
	svc.now = func() time.Time { return base }
	_, _ = svc.DependencyGraph(context.Background(), "A", 1, false)
	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, _ = svc.DependencyGraph(context.Background(), "X", 1, false)

	stats := svc.GetCacheStats()
	if stats.Total != 2 || stats.Valid != 1 || stats.Expired != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TTLSeconds != 60 {
		t.Errorf("ttl_seconds = %v", stats.TTLSeconds)
	}

	svc.ClearCache()
	if svc.GetCacheStats().Total != 0 {
		t.Errorf("clear did not empty the cache")
	}
}

func TestParseJobIDs(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{`["A","B"]`, []string{"A", "B"}},
		{`[{"id":"A"},{"name":"B"},{"jobName":"C"}]`, []string{"A", "B", "C"}},
		{`{"items":[{"key":"K1"}]}`, []string{"K1"}},
		{`[]`, nil},
		{`{"total":3}`, nil},
	}
	for _, tc := range cases {
		got := parseJobIDs(json.RawMessage(tc.raw))
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v want %v", tc.raw, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: got %v want %v", tc.raw, got, tc.want)
			}
		}
	}
}
