// SPDX-License-Identifier: Apache-2.0
// Package poller runs the proactive TWS monitor: a single long-running
// loop that snapshots the current plan, feeds the temporal store and
// keeps the tws_* gauges current.
package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/netover/hwav5-sub002/pkg/backend"
	"github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/graph"
	"github.com/netover/hwav5-sub002/pkg/metrics"
)

// Backend is the slice of the backend client the poller consumes.
type Backend interface {
	EngineInfo(ctx context.Context) (json.RawMessage, error)
	PlanJobCount(ctx context.Context) (json.RawMessage, error)
	PlanJobIssues(ctx context.Context) (json.RawMessage, error)
	QueryPlanJobs(ctx context.Context, opts backend.QueryOptions) (json.RawMessage, error)
	QueryWorkstations(ctx context.Context, opts backend.QueryOptions) (json.RawMessage, error)
}

// Config tunes the polling loop.
type Config struct {
	// Interval is the normal cadence. Default 30s.
	Interval time.Duration

	// FailureThreshold is the consecutive-failure count that starts
	// backing off. Default 3.
	FailureThreshold int

	// BackoffStep is added to the wait after each failure past the
	// threshold. Default equals Interval.
	BackoffStep time.Duration

	// BackoffCap bounds the additive backoff. Default 5m.
	BackoffCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = c.Interval
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	return c
}

// Poller is the proactive monitor. At most one Run loop may be active
// per instance; a second Run returns an error instead of racing the
// backend client.
type Poller struct {
	backend  Backend
	temporal *graph.TemporalStore
	cfg      Config
	logger   *slog.Logger

	running atomic.Bool

	jobsTotal          *metrics.Gauge
	jobsFailed         *metrics.Gauge
	workstationsOff    *metrics.Gauge
	lastPollTimestamp  *metrics.Gauge
	pollErrors         *metrics.Counter
	consecutiveFailure int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a poller feeding the given temporal store.
func New(b Backend, temporal *graph.TemporalStore, cfg Config, reg *metrics.Registry, logger *slog.Logger) *Poller {
	if reg == nil {
		reg = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		backend:  b,
		temporal: temporal,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		jobsTotal: reg.Gauge("tws_jobs_total",
			"Jobs in the current plan", nil),
		jobsFailed: reg.Gauge("tws_jobs_failed",
			"Failed jobs in the current plan", nil),
		workstationsOff: reg.Gauge("tws_workstations_offline",
			"Workstations not linked", nil),
		lastPollTimestamp: reg.Gauge("tws_last_poll_timestamp",
			"Unix time of the last successful poll", nil),
		pollErrors: reg.Counter("tws_poll_errors_total",
			"Poll iterations abandoned after repeated backend failure", nil),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the polling loop until ctx is cancelled. Only one loop
// may run at a time.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New(errors.CodeInternal, "poller already running", nil)
	}
	defer p.running.Store(false)

	p.logger.InfoContext(ctx, "poller started", "interval", p.cfg.Interval)
	for {
		if err := p.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.consecutiveFailure++
			p.logger.WarnContext(ctx, "poll failed",
				"consecutive", p.consecutiveFailure, "error", err)
			if p.consecutiveFailure >= p.cfg.FailureThreshold {
				p.pollErrors.Inc()
			}
		} else {
			p.consecutiveFailure = 0
		}

		if err := p.sleep(ctx, p.nextWait()); err != nil {
			return err
		}
	}
}

// nextWait is the normal cadence plus additive backoff once the failure
// threshold is crossed, bounded by the cap.
func (p *Poller) nextWait() time.Duration {
	wait := p.cfg.Interval
	if over := p.consecutiveFailure - p.cfg.FailureThreshold; over >= 0 {
		backoff := time.Duration(over+1) * p.cfg.BackoffStep
		if backoff > p.cfg.BackoffCap {
			backoff = p.cfg.BackoffCap
		}
		wait += backoff
	}
	return wait
}

// snapshot is one fully-fetched poll result. Gauges and the temporal
// store are only touched after the whole snapshot is in hand, so a
// cancelled iteration leaves no partial state.
type snapshot struct {
	jobs        []planJob
	offline     int
	polledAt    time.Time
	issuesNoted bool
}

type planJob struct {
	Name        string `json:"name"`
	JobName     string `json:"jobName"`
	Status      string `json:"status"`
	Workstation string `json:"workstationName"`
}

func (j planJob) id() string {
	if j.Name != "" {
		return j.Name
	}
	return j.JobName
}

var failedStatuses = map[string]struct{}{
	"ABEND": {}, "ERROR": {}, "FAILED": {}, "FAIL": {},
}

type workstation struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Linked bool   `json:"linked"`
}

func (p *Poller) pollOnce(ctx context.Context) error {
	snap, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.apply(snap)
	return nil
}

func (p *Poller) fetch(ctx context.Context) (*snapshot, error) {
	// Engine info doubles as a liveness probe for the whole iteration.
	if _, err := p.backend.EngineInfo(ctx); err != nil {
		return nil, err
	}
	if _, err := p.backend.PlanJobCount(ctx); err != nil {
		return nil, err
	}

	rawJobs, err := p.backend.QueryPlanJobs(ctx, backend.QueryOptions{Limit: 1000})
	if err != nil {
		return nil, err
	}
	var jobs []planJob
	if err := json.Unmarshal(rawJobs, &jobs); err != nil {
		return nil, errors.New(errors.CodeBackendHTTP, "unparseable plan job list", err)
	}

	rawWs, err := p.backend.QueryWorkstations(ctx, backend.QueryOptions{Limit: 1000})
	if err != nil {
		return nil, err
	}
	var stations []workstation
	if err := json.Unmarshal(rawWs, &stations); err != nil {
		return nil, errors.New(errors.CodeBackendHTTP, "unparseable workstation list", err)
	}
	offline := 0
	for _, ws := range stations {
		if !ws.Linked && !strings.EqualFold(ws.Status, "LINKED") {
			offline++
		}
	}

	// Plan issues are advisory; a failure here does not abort the poll.
	issuesNoted := true
	if _, err := p.backend.PlanJobIssues(ctx); err != nil {
		issuesNoted = false
		p.logger.DebugContext(ctx, "plan issues unavailable", "error", err)
	}

	return &snapshot{
		jobs:        jobs,
		offline:     offline,
		polledAt:    p.now(),
		issuesNoted: issuesNoted,
	}, nil
}

func (p *Poller) apply(snap *snapshot) {
	failed := 0
	for _, j := range snap.jobs {
		if _, bad := failedStatuses[strings.ToUpper(j.Status)]; bad {
			failed++
		}
		if p.temporal != nil && j.id() != "" {
			p.temporal.RecordJobState(j.id(), j.Status, snap.polledAt, "poller")
		}
	}

	p.jobsTotal.Set(float64(len(snap.jobs)))
	p.jobsFailed.Set(float64(failed))
	p.workstationsOff.Set(float64(snap.offline))
	p.lastPollTimestamp.Set(float64(snap.polledAt.Unix()))
}
