// SPDX-License-Identifier: Apache-2.0
package health

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Pinger is a connectivity probe target (database handle, service
// client).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache is the slice of the cache hierarchy the probe exercises.
type Cache interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Get(key string) (interface{}, bool)
	Delete(key string) bool
}

// PoolStats describes one connection pool.
type PoolStats struct {
	Name      string
	InUse     int
	Capacity  int
	ErrorRate float64
}

// PoolStatsFunc supplies the current pool stats.
type PoolStatsFunc func() []PoolStats

// PingProbe checks connectivity to a dependency. A nil target reports
// UNKNOWN.
func PingProbe(name string, target Pinger) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		if target == nil {
			return ComponentHealth{Status: StatusUnknown, Message: name + " not configured"}
		}
		if err := target.Ping(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy, Message: name + " reachable"}
	}
}

// RedisProbe checks the redis connection.
func RedisProbe(client redis.UniversalClient) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		if client == nil {
			return ComponentHealth{Status: StatusUnknown, Message: "redis not configured"}
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy, Message: "redis reachable"}
	}
}

// CacheProbe round-trips a sentinel value through the cache hierarchy.
func CacheProbe(c Cache) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		if c == nil {
			return ComponentHealth{Status: StatusUnknown, Message: "cache not configured"}
		}
		key := "healthcheck:" + uuid.NewString()
		if err := c.Set(key, "ok", time.Minute); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: "cache write failed: " + err.Error()}
		}
		defer c.Delete(key)
		if v, ok := c.Get(key); !ok || v != "ok" {
			return ComponentHealth{Status: StatusUnhealthy, Message: "cache read-after-write failed"}
		}
		return ComponentHealth{Status: StatusHealthy, Message: "cache round-trip ok"}
	}
}

// FileSystemProbe checks disk usage of path against the thresholds.
func FileSystemProbe(path string, t Thresholds) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		var st syscall.Statfs_t
		if err := syscall.Statfs(path, &st); err != nil {
			return ComponentHealth{Status: StatusUnknown, Message: "statfs failed: " + err.Error()}
		}
		total := float64(st.Blocks) * float64(st.Bsize)
		if total == 0 {
			return ComponentHealth{Status: StatusUnknown, Message: "filesystem reports zero size"}
		}
		free := float64(st.Bavail) * float64(st.Bsize)
		usage := (total - free) / total * 100

		return ComponentHealth{
			Status:  classify(usage, t.DiskWarning, t.DiskCritical),
			Message: fmt.Sprintf("disk usage %.1f%%", usage),
			Details: map[string]any{"path": path, "usage_percent": usage},
		}
	}
}

// MemoryProbe checks system memory usage from /proc/meminfo against the
// thresholds, attaching Go heap figures as detail.
func MemoryProbe(t Thresholds) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		usage, err := systemMemoryUsage()
		if err != nil {
			return ComponentHealth{Status: StatusUnknown, Message: err.Error()}
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return ComponentHealth{
			Status:  classify(usage, t.MemoryWarning, t.MemoryCritical),
			Message: fmt.Sprintf("memory usage %.1f%%", usage),
			Details: map[string]any{
				"usage_percent":  usage,
				"heap_alloc_mb":  float64(ms.HeapAlloc) / (1 << 20),
				"gc_cycles":      ms.NumGC,
				"goroutines":     runtime.NumGoroutine(),
			},
		}
	}
}

func systemMemoryUsage() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("meminfo unavailable: %w", err)
	}
	defer f.Close()

	var totalKB, availKB float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB == 0 {
		return 0, fmt.Errorf("meminfo missing MemTotal")
	}
	return (totalKB - availKB) / totalKB * 100, nil
}

// CPUProbe samples /proc/stat three times 50ms apart and classifies the
// mean busy percentage, damping burst readings.
func CPUProbe(t Thresholds) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		var samples []float64
		prevBusy, prevTotal, err := cpuTimes()
		if err != nil {
			return ComponentHealth{Status: StatusUnknown, Message: err.Error()}
		}
		for i := 0; i < 3; i++ {
			select {
			case <-ctx.Done():
				return ComponentHealth{Status: StatusUnknown, Message: "cpu sampling cancelled"}
			case <-time.After(50 * time.Millisecond):
			}
			busy, total, err := cpuTimes()
			if err != nil {
				return ComponentHealth{Status: StatusUnknown, Message: err.Error()}
			}
			if dt := total - prevTotal; dt > 0 {
				samples = append(samples, (busy-prevBusy)/dt*100)
			}
			prevBusy, prevTotal = busy, total
		}
		if len(samples) == 0 {
			return ComponentHealth{Status: StatusUnknown, Message: "no cpu samples"}
		}

		var sum float64
		for _, s := range samples {
			sum += s
		}
		mean := sum / float64(len(samples))
		return ComponentHealth{
			Status:  classify(mean, t.CPUWarning, t.CPUCritical),
			Message: fmt.Sprintf("cpu usage %.1f%%", mean),
			Details: map[string]any{"usage_percent": mean, "samples": len(samples)},
		}
	}
}

func cpuTimes() (busy, total float64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("proc stat unavailable: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var idle float64
		for i, raw := range fields[1:] {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			total += v
			// fields: user nice system idle iowait ...
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return total - idle, total, nil
	}
	return 0, 0, fmt.Errorf("proc stat missing cpu line")
}

// TWSMonitorProbe checks the workload-automation backend via its engine
// info endpoint.
func TWSMonitorProbe(engineInfo func(ctx context.Context) error) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		if engineInfo == nil {
			return ComponentHealth{Status: StatusUnknown, Message: "backend not configured"}
		}
		if err := engineInfo(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: "engine unreachable: " + err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy, Message: "engine reachable"}
	}
}

// PoolProbe classifies connection pool usage against the thresholds. The
// worst pool decides the status.
func PoolProbe(stats PoolStatsFunc, t Thresholds) ProbeFunc {
	return func(ctx context.Context) ComponentHealth {
		if stats == nil {
			return ComponentHealth{Status: StatusUnknown, Message: "pool stats not available"}
		}
		pools := stats()
		if len(pools) == 0 {
			return ComponentHealth{Status: StatusUnknown, Message: "no pools reported"}
		}

		worst := StatusHealthy
		var worstMsg string
		details := make(map[string]any, len(pools))
		for _, p := range pools {
			usage := 0.0
			if p.Capacity > 0 {
				usage = float64(p.InUse) / float64(p.Capacity) * 100
			}
			details[p.Name] = usage
			status := classify(usage, t.PoolWarning, t.PoolCritical)
			if rank(status) > rank(worst) {
				worst = status
				worstMsg = fmt.Sprintf("pool %s at %.1f%%", p.Name, usage)
			}
		}
		if worst == StatusHealthy {
			worstMsg = "all pools within limits"
		}
		return ComponentHealth{Status: worst, Message: worstMsg, Details: details}
	}
}

func rank(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 3
	case StatusDegraded:
		return 2
	case StatusHealthy:
		return 1
	default:
		return 0
	}
}
