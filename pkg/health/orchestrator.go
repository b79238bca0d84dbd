// SPDX-License-Identifier: Apache-2.0
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/netover/hwav5-sub002/pkg/metrics"
)

// ProbeFunc checks one component. Implementations must respect ctx and
// must not panic on missing dependencies: absence is UNKNOWN, not an
// error.
type ProbeFunc func(ctx context.Context) ComponentHealth

// OrchestratorConfig tunes the comprehensive check.
type OrchestratorConfig struct {
	// ComponentTimeout bounds each probe. Default 10s.
	ComponentTimeout time.Duration

	// GlobalTimeout bounds the whole check. Default 30s.
	GlobalTimeout time.Duration

	// MaxHistoryEntries bounds the history ring. Default 100.
	MaxHistoryEntries int

	// RetentionDays ages out history entries. Default 7.
	RetentionDays int
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.ComponentTimeout <= 0 {
		c.ComponentTimeout = 10 * time.Second
	}
	if c.GlobalTimeout <= 0 {
		c.GlobalTimeout = 30 * time.Second
	}
	if c.MaxHistoryEntries <= 0 {
		c.MaxHistoryEntries = 100
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
	return c
}

// HistoryEntry is one archived check result.
type HistoryEntry struct {
	Status     Status            `json:"status"`
	Summary    map[string]int    `json:"summary"`
	Components map[string]Status `json:"component_status_map"`
	CheckedAt  time.Time         `json:"checked_at"`
	DurationMs int64             `json:"duration_ms"`
}

// Orchestrator runs the fixed probe set and keeps the result history.
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger *slog.Logger

	mu      sync.RWMutex
	probes  map[string]ProbeFunc
	history []HistoryEntry
	last    *Report

	checks   *metrics.Counter
	duration *metrics.Histogram

	now func() time.Time
}

// NewOrchestrator creates an orchestrator with no probes registered:
// unregistered components report UNKNOWN.
func NewOrchestrator(cfg OrchestratorConfig, reg *metrics.Registry, logger *slog.Logger) *Orchestrator {
	if reg == nil {
		reg = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		logger: logger,
		probes: make(map[string]ProbeFunc),
		checks: reg.Counter("health_checks_total",
			"Comprehensive health checks by overall status", []string{"status"}),
		duration: reg.Histogram("health_check_duration_seconds",
			"Comprehensive health check duration", nil),
		now: time.Now,
	}
}

// Register installs the probe for a component. A nil probe leaves the
// component reporting UNKNOWN.
func (o *Orchestrator) Register(name string, probe ProbeFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if probe != nil {
		o.probes[name] = probe
	}
}

// PerformComprehensiveHealthCheck runs every component probe in
// parallel, each under the per-component timeout, the whole set under
// the global timeout, and aggregates the verdicts.
func (o *Orchestrator) PerformComprehensiveHealthCheck(ctx context.Context) *Report {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GlobalTimeout)
	defer cancel()

	o.mu.RLock()
	probes := make(map[string]ProbeFunc, len(o.probes))
	for name, p := range o.probes {
		probes[name] = p
	}
	o.mu.RUnlock()

	var resMu sync.Mutex
	components := make(map[string]ComponentHealth, len(ComponentNames))

	// Unregistered components are settled before any probe goroutine
	// starts so the map is never written without resMu held.
	for _, name := range ComponentNames {
		if _, ok := probes[name]; !ok {
			components[name] = ComponentHealth{
				Name:      name,
				Status:    StatusUnknown,
				Message:   "no probe registered",
				CheckedAt: start,
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range ComponentNames {
		probe, ok := probes[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			result := o.runProbe(ctx, name, probe)
			resMu.Lock()
			components[name] = result
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Status:        Aggregate(components),
		Components:    components,
		Summary:       Summarize(components),
		Alerts:        Alerts(components),
		CorrelationID: uuid.NewString(),
		CheckedAt:     start,
		DurationMs:    o.now().Sub(start).Milliseconds(),
	}

	o.checks.With(map[string]string{"status": string(report.Status)}).Inc()
	o.duration.Observe(o.now().Sub(start).Seconds())
	o.archive(report)

	if report.Status != StatusHealthy {
		o.logger.WarnContext(ctx, "health check not healthy",
			"status", string(report.Status), "alerts", len(report.Alerts))
	}
	return report
}

// runProbe executes one probe under the component timeout, converting a
// timeout or panic into an UNHEALTHY verdict.
func (o *Orchestrator) runProbe(ctx context.Context, name string, probe ProbeFunc) (result ComponentHealth) {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ComponentTimeout)
	defer cancel()

	done := make(chan ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ComponentHealth{
					Name:    name,
					Status:  StatusUnhealthy,
					Message: fmt.Sprintf("probe panicked: %v", r),
				}
			}
		}()
		done <- probe(ctx)
	}()

	select {
	case result = <-done:
	case <-ctx.Done():
		result = ComponentHealth{
			Name:    name,
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("probe timed out after %s", o.cfg.ComponentTimeout),
		}
	}

	result.Name = name
	result.CheckedAt = start
	result.DurationMs = o.now().Sub(start).Milliseconds()
	return result
}

// archive pushes the report into the ring and drops entries past the
// size bound or the retention window.
func (o *Orchestrator) archive(report *Report) {
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make(map[string]Status, len(report.Components))
	for name, c := range report.Components {
		statuses[name] = c.Status
	}

	o.last = report
	o.history = append(o.history, HistoryEntry{
		Status:     report.Status,
		Summary:    report.Summary,
		Components: statuses,
		CheckedAt:  report.CheckedAt,
		DurationMs: report.DurationMs,
	})

	cutoff := o.now().AddDate(0, 0, -o.cfg.RetentionDays)
	trimmed := o.history[:0]
	for _, e := range o.history {
		if e.CheckedAt.After(cutoff) {
			trimmed = append(trimmed, e)
		}
	}
	o.history = trimmed
	if len(o.history) > o.cfg.MaxHistoryEntries {
		o.history = o.history[len(o.history)-o.cfg.MaxHistoryEntries:]
	}
}

// LastReport returns the most recent report, or nil before the first
// check.
func (o *Orchestrator) LastReport() *Report {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// History returns a copy of the archived entries, oldest first.
func (o *Orchestrator) History() []HistoryEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]HistoryEntry, len(o.history))
	copy(out, o.history)
	return out
}
