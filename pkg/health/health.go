// SPDX-License-Identifier: Apache-2.0
// Package health runs the comprehensive health check: a fixed set of
// component probes executed concurrently, aggregated into an overall
// status with alerts and a bounded history.
package health

import (
	"fmt"
	"sort"
	"time"
)

// Status is a component or overall health state.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusUnknown   Status = "UNKNOWN"
)

// Component names probed by the orchestrator.
const (
	ComponentDatabase        = "database"
	ComponentRedis           = "redis"
	ComponentCacheHierarchy  = "cache_hierarchy"
	ComponentFileSystem      = "file_system"
	ComponentMemory          = "memory"
	ComponentCPU             = "cpu"
	ComponentTWSMonitor      = "tws_monitor"
	ComponentConnectionPools = "connection_pools"
	ComponentWebsocketPool   = "websocket_pool"
)

// ComponentNames is the fixed probe set in reporting order.
var ComponentNames = []string{
	ComponentDatabase,
	ComponentRedis,
	ComponentCacheHierarchy,
	ComponentFileSystem,
	ComponentMemory,
	ComponentCPU,
	ComponentTWSMonitor,
	ComponentConnectionPools,
	ComponentWebsocketPool,
}

// criticalComponents force the overall status to UNHEALTHY when they are.
var criticalComponents = map[string]struct{}{
	ComponentDatabase: {},
	ComponentRedis:    {},
}

// ComponentHealth is one probe's verdict.
type ComponentHealth struct {
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	Message    string         `json:"message,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
	Details    map[string]any `json:"details,omitempty"`
}

// Report is the result of one comprehensive check.
type Report struct {
	Status        Status                     `json:"status"`
	Components    map[string]ComponentHealth `json:"components"`
	Summary       map[string]int             `json:"summary"`
	Alerts        []string                   `json:"alerts,omitempty"`
	CorrelationID string                     `json:"correlation_id,omitempty"`
	CheckedAt     time.Time                  `json:"checked_at"`
	DurationMs    int64                      `json:"duration_ms"`
}

// Aggregate computes the overall status from a component map. The rules,
// in order: a critical component UNHEALTHY forces UNHEALTHY; more than
// half UNHEALTHY forces UNHEALTHY; any UNHEALTHY or DEGRADED component
// yields DEGRADED; otherwise HEALTHY.
func Aggregate(components map[string]ComponentHealth) Status {
	if len(components) == 0 {
		return StatusUnknown
	}

	unhealthy, degraded := 0, 0
	for name, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			if _, critical := criticalComponents[name]; critical {
				return StatusUnhealthy
			}
			unhealthy++
		case StatusDegraded:
			degraded++
		}
	}

	switch {
	case float64(unhealthy) > 0.5*float64(len(components)):
		return StatusUnhealthy
	case unhealthy > 0 || degraded > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Summarize counts components per status.
func Summarize(components map[string]ComponentHealth) map[string]int {
	summary := map[string]int{
		string(StatusHealthy):   0,
		string(StatusDegraded):  0,
		string(StatusUnhealthy): 0,
		string(StatusUnknown):   0,
	}
	for _, c := range components {
		summary[string(c.Status)]++
	}
	return summary
}

// Alerts renders one line per non-healthy component, worst first.
func Alerts(components map[string]ComponentHealth) []string {
	var names []string
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, level := range []Status{StatusUnhealthy, StatusDegraded, StatusUnknown} {
		for _, name := range names {
			c := components[name]
			if c.Status != level {
				continue
			}
			out = append(out, fmt.Sprintf("%s: %s is %s - %s",
				alertLevel(c.Status), name, c.Status, c.Message))
		}
	}
	return out
}

func alertLevel(s Status) string {
	switch s {
	case StatusUnhealthy:
		return "CRITICAL"
	case StatusDegraded:
		return "WARNING"
	default:
		return "INFO"
	}
}

// Thresholds are the resource probe limits, as percentages.
type Thresholds struct {
	DiskWarning    float64
	DiskCritical   float64
	MemoryWarning  float64
	MemoryCritical float64
	CPUWarning     float64
	CPUCritical    float64
	PoolWarning    float64
	PoolCritical   float64
}

// DefaultThresholds returns the standard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiskWarning:    85,
		DiskCritical:   95,
		MemoryWarning:  85,
		MemoryCritical: 95,
		CPUWarning:     85,
		CPUCritical:    95,
		PoolWarning:    80,
		PoolCritical:   95,
	}
}

// classify maps a usage percentage onto the warn/crit limits.
func classify(usage, warning, critical float64) Status {
	switch {
	case usage >= critical:
		return StatusUnhealthy
	case usage >= warning:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
