// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/netover/hwav5-sub002/pkg/metrics"
)

// Observation is one recorded job state.
type Observation struct {
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// StatusAtResult answers a state-at-time query. Reason is set only on the
// UNKNOWN sentinel.
type StatusAtResult struct {
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// StatusUnknown is returned when no observation precedes the query time.
const StatusUnknown = "UNKNOWN"

// failingStatuses are the states treated as failing for transition
// queries. TWS surfaces failures as ABEND or ERROR depending on engine.
var failingStatuses = map[string]struct{}{
	"FAILING": {},
	"FAILED":  {},
	"ABEND":   {},
	"ERROR":   {},
}

func isFailing(status string) bool {
	_, ok := failingStatuses[strings.ToUpper(status)]
	return ok
}

// TemporalStore keeps a bounded per-job ring of observations for
// state-at-time queries. Observations may arrive out of order; each ring
// is kept sorted by observation time.
type TemporalStore struct {
	mu      sync.RWMutex
	rings   map[string][]Observation
	maxSize int

	evictions *metrics.Counter
}

// NewTemporalStore creates a store keeping at most maxPerJob observations
// per job (oldest evicted first).
func NewTemporalStore(maxPerJob int, reg *metrics.Registry) *TemporalStore {
	if maxPerJob <= 0 {
		maxPerJob = 1000
	}
	if reg == nil {
		reg = metrics.Default()
	}
	return &TemporalStore{
		rings:   make(map[string][]Observation),
		maxSize: maxPerJob,
		evictions: reg.Counter("graph_temporal_evictions_total",
			"Observations dropped from full temporal rings", nil),
	}
}

// RecordJobState appends an observation to the job's ring.
func (s *TemporalStore) RecordJobState(jobID, status string, at time.Time, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := s.rings[jobID]
	obs := Observation{Status: status, ObservedAt: at, Source: source}

	// Binary insert keeps the ring time-ordered even when the poller and
	// an ad-hoc recording interleave.
	i := sort.Search(len(ring), func(i int) bool { return ring[i].ObservedAt.After(at) })
	ring = append(ring, Observation{})
	copy(ring[i+1:], ring[i:])
	ring[i] = obs

	if over := len(ring) - s.maxSize; over > 0 {
		ring = ring[over:]
		s.evictions.Add("", float64(over))
	}
	s.rings[jobID] = ring
}

// StatusAt returns the state with the greatest observed_at ≤ t, or the
// UNKNOWN sentinel when no observation precedes t.
func (s *TemporalStore) StatusAt(jobID string, t time.Time) StatusAtResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.rings[jobID]
	i := sort.Search(len(ring), func(i int) bool { return ring[i].ObservedAt.After(t) })
	if i == 0 {
		return StatusAtResult{Status: StatusUnknown, Reason: "no-prior-observation"}
	}
	obs := ring[i-1]
	return StatusAtResult{Status: obs.Status, ObservedAt: obs.ObservedAt, Source: obs.Source}
}

// WhenStartedFailing returns the earliest transition from a non-failing
// state to a failing one at or after since. A job whose first observation
// in range is already failing counts as a transition only when an earlier
// non-failing observation exists.
func (s *TemporalStore) WhenStartedFailing(jobID string, since time.Time) (Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.rings[jobID]
	for i := 1; i < len(ring); i++ {
		if !isFailing(ring[i-1].Status) && isFailing(ring[i].Status) && !ring[i].ObservedAt.Before(since) {
			return ring[i], true
		}
	}
	return Observation{}, false
}

// History returns a copy of the job's ring in time order.
func (s *TemporalStore) History(jobID string) []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.rings[jobID]
	out := make([]Observation, len(ring))
	copy(out, ring)
	return out
}

// Jobs returns the identifiers with at least one observation.
func (s *TemporalStore) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rings))
	for id := range s.rings {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
