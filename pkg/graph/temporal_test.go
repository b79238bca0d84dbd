// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"testing"
	"time"

	"github.com/netover/hwav5-sub002/pkg/metrics"
)

func ts(sec int64) time.Time { return time.Unix(sec, 0) }

func TestStatusAt(t *testing.T) {
	store := NewTemporalStore(100, nil)
	store.RecordJobState("j", "HEALTHY", ts(100), "poller")
	store.RecordJobState("j", "FAILING", ts(200), "poller")

	if got := store.StatusAt("j", ts(150)); got.Status != "HEALTHY" {
		t.Errorf("status at 150 = %+v", got)
	}
	if got := store.StatusAt("j", ts(200)); got.Status != "FAILING" {
		t.Errorf("status at 200 = %+v", got)
	}
	got := store.StatusAt("j", ts(50))
	if got.Status != StatusUnknown || got.Reason != "no-prior-observation" {
		t.Errorf("status at 50 = %+v", got)
	}
	if got := store.StatusAt("missing", ts(500)); got.Status != StatusUnknown {
		t.Errorf("unknown job = %+v", got)
	}
}

func TestStatusAtOutOfOrderInsert(t *testing.T) {
	store := NewTemporalStore(100, nil)
	store.RecordJobState("j", "FAILING", ts(300), "poller")
	store.RecordJobState("j", "HEALTHY", ts(100), "backfill")

	if got := store.StatusAt("j", ts(150)); got.Status != "HEALTHY" {
		t.Errorf("out-of-order insert broke ordering: %+v", got)
	}
}

func TestWhenStartedFailing(t *testing.T) {
	store := NewTemporalStore(100, nil)
	store.RecordJobState("j", "HEALTHY", ts(100), "poller")
	store.RecordJobState("j", "ABEND", ts(200), "poller")
	store.RecordJobState("j", "HEALTHY", ts(300), "poller")
	store.RecordJobState("j", "ERROR", ts(400), "poller")

	obs, ok := store.WhenStartedFailing("j", ts(0))
	if !ok || !obs.ObservedAt.Equal(ts(200)) {
		t.Errorf("expected first transition at 200, got %+v ok=%v", obs, ok)
	}

	obs, ok = store.WhenStartedFailing("j", ts(250))
	if !ok || !obs.ObservedAt.Equal(ts(400)) {
		t.Errorf("expected transition at 400, got %+v ok=%v", obs, ok)
	}

	if _, ok := store.WhenStartedFailing("j", ts(500)); ok {
		t.Errorf("no transition after 500")
	}
}

func TestWhenStartedFailingNeedsTransition(t *testing.T) {
	store := NewTemporalStore(100, nil)
	store.RecordJobState("j", "ABEND", ts(100), "poller")

	if _, ok := store.WhenStartedFailing("j", ts(0)); ok {
		t.Errorf("a lone failing observation is not a transition")
	}
}

func TestRingBound(t *testing.T) {
	reg := metrics.NewRegistry()
	store := NewTemporalStore(3, reg)
	for i := int64(1); i <= 5; i++ {
		store.RecordJobState("j", "HEALTHY", ts(i*100), "poller")
	}

	hist := store.History("j")
	if len(hist) != 3 {
		t.Fatalf("ring not bounded: %d entries", len(hist))
	}
	if !hist[0].ObservedAt.Equal(ts(300)) {
		t.Errorf("oldest entries not evicted: %+v", hist)
	}
	// Observations before the ring window are unknown again.
	if got := store.StatusAt("j", ts(150)); got.Status != StatusUnknown {
		t.Errorf("expected UNKNOWN before window, got %+v", got)
	}

	evictions := reg.Counter("graph_temporal_evictions_total",
		"Observations dropped from full temporal rings", nil)
	if got := evictions.Value(nil); got != 2 {
		t.Errorf("expected 2 evictions counted, got %v", got)
	}
}

func TestJobsListing(t *testing.T) {
	store := NewTemporalStore(10, nil)
	store.RecordJobState("b", "HEALTHY", ts(1), "p")
	store.RecordJobState("a", "HEALTHY", ts(1), "p")

	jobs := store.Jobs()
	if len(jobs) != 2 || jobs[0] != "a" || jobs[1] != "b" {
		t.Errorf("jobs = %v", jobs)
	}
}
