// SPDX-License-Identifier: Apache-2.0
// Package metrics implements the gateway's in-process metrics registry:
// named, labeled counters, gauges and histograms with a JSON export shape
// consumed by the /metrics endpoint. Metrics are created lazily on first
// reference and live for the whole process.
package metrics

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxObservations bounds the per-label-set histogram window. The oldest
// observation is evicted once the window is full.
const maxObservations = 10000

// MetricType identifies the metric variant in exports.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Registry holds all metrics for a process. Construct one at startup and
// thread it through components; Default exists for shared surfaces.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Counter returns the counter with the given name, creating it if needed.
// The label names fix the allowed label set for every bound view.
func (r *Registry) Counter(name, description string, labels []string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{
		name:        name,
		description: description,
		labelNames:  append([]string(nil), labels...),
		values:      make(map[string]float64),
	}
	r.counters[name] = c
	return c
}

// Gauge returns the gauge with the given name, creating it if needed.
func (r *Registry) Gauge(name, description string, labels []string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{
		name:        name,
		description: description,
		labelNames:  append([]string(nil), labels...),
		values:      make(map[string]float64),
	}
	r.gauges[name] = g
	return g
}

// Histogram returns the histogram with the given name, creating it if needed.
func (r *Registry) Histogram(name, description string, labels []string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := &Histogram{
		name:        name,
		description: description,
		labelNames:  append([]string(nil), labels...),
		windows:     make(map[string][]float64),
	}
	r.histograms[name] = h
	return h
}

// labelKey builds the canonical key for a label assignment: the sorted
// list of k=v pairs joined with commas. An empty assignment maps to "".
func labelKey(names []string, values map[string]string) string {
	if len(values) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(values))
	for _, n := range names {
		if v, ok := values[n]; ok {
			pairs = append(pairs, n+"="+v)
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name        string
	description string
	labelNames  []string

	mu     sync.Mutex
	values map[string]float64
}

// With binds the counter to a label assignment.
func (c *Counter) With(labels map[string]string) *BoundCounter {
	return &BoundCounter{c: c, key: labelKey(c.labelNames, labels)}
}

// Inc increments the unlabeled series by 1.
func (c *Counter) Inc() { c.Add("", 1) }

// Add increments the series for the given key by delta.
func (c *Counter) Add(key string, delta float64) {
	c.mu.Lock()
	c.values[key] += delta
	c.mu.Unlock()
}

// Value returns the current value for the given label assignment.
func (c *Counter) Value(labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[labelKey(c.labelNames, labels)]
}

// BoundCounter is a counter view bound to one label assignment.
type BoundCounter struct {
	c   *Counter
	key string
}

// Inc increments the bound series by 1.
func (b *BoundCounter) Inc() { b.c.Add(b.key, 1) }

// Add increments the bound series by delta.
func (b *BoundCounter) Add(delta float64) { b.c.Add(b.key, delta) }

// Gauge is a metric that can be set, incremented and decremented.
type Gauge struct {
	name        string
	description string
	labelNames  []string

	mu     sync.Mutex
	values map[string]float64
}

// With binds the gauge to a label assignment.
func (g *Gauge) With(labels map[string]string) *BoundGauge {
	return &BoundGauge{g: g, key: labelKey(g.labelNames, labels)}
}

// Set sets the unlabeled series.
func (g *Gauge) Set(v float64) { g.set("", v) }

// Inc increments the unlabeled series by 1.
func (g *Gauge) Inc() { g.add("", 1) }

// Dec decrements the unlabeled series by 1.
func (g *Gauge) Dec() { g.add("", -1) }

func (g *Gauge) set(key string, v float64) {
	g.mu.Lock()
	g.values[key] = v
	g.mu.Unlock()
}

func (g *Gauge) add(key string, delta float64) {
	g.mu.Lock()
	g.values[key] += delta
	g.mu.Unlock()
}

// Value returns the current value for the given label assignment.
func (g *Gauge) Value(labels map[string]string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.values[labelKey(g.labelNames, labels)]
}

// BoundGauge is a gauge view bound to one label assignment.
type BoundGauge struct {
	g   *Gauge
	key string
}

// Set sets the bound series.
func (b *BoundGauge) Set(v float64) { b.g.set(b.key, v) }

// Inc increments the bound series by 1.
func (b *BoundGauge) Inc() { b.g.add(b.key, 1) }

// Dec decrements the bound series by 1.
func (b *BoundGauge) Dec() { b.g.add(b.key, -1) }

// Histogram records observations and reports p50/p95/p99 per label set.
type Histogram struct {
	name        string
	description string
	labelNames  []string

	mu      sync.Mutex
	windows map[string][]float64
}

// With binds the histogram to a label assignment.
func (h *Histogram) With(labels map[string]string) *BoundHistogram {
	return &BoundHistogram{h: h, key: labelKey(h.labelNames, labels)}
}

// Observe records a value on the unlabeled series.
func (h *Histogram) Observe(v float64) { h.observe("", v) }

func (h *Histogram) observe(key string, v float64) {
	h.mu.Lock()
	w := append(h.windows[key], v)
	if len(w) > maxObservations {
		w = w[len(w)-maxObservations:]
	}
	h.windows[key] = w
	h.mu.Unlock()
}

// Count returns the number of retained observations for the label set.
func (h *Histogram) Count(labels map[string]string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows[labelKey(h.labelNames, labels)])
}

// Percentiles returns p50, p95 and p99 over the retained window.
func (h *Histogram) Percentiles(labels map[string]string) (p50, p95, p99 float64) {
	h.mu.Lock()
	w := append([]float64(nil), h.windows[labelKey(h.labelNames, labels)]...)
	h.mu.Unlock()
	return percentiles(w)
}

// BoundHistogram is a histogram view bound to one label assignment.
type BoundHistogram struct {
	h   *Histogram
	key string
}

// Observe records a value on the bound series.
func (b *BoundHistogram) Observe(v float64) { b.h.observe(b.key, v) }

// Time returns a timer that observes elapsed seconds when stopped.
func (b *BoundHistogram) Time() *Timer {
	return &Timer{start: time.Now(), stop: b.Observe}
}

// Time returns a timer against the unlabeled series.
func (h *Histogram) Time() *Timer {
	return &Timer{start: time.Now(), stop: h.Observe}
}

// Timer observes elapsed seconds into a histogram when stopped.
type Timer struct {
	start time.Time
	stop  func(float64)
	once  sync.Once
}

// Stop records the elapsed duration. Safe to call more than once; only
// the first call observes.
func (t *Timer) Stop() {
	t.once.Do(func() {
		t.stop(time.Since(t.start).Seconds())
	})
}

func percentiles(w []float64) (p50, p95, p99 float64) {
	if len(w) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(w)
	return quantile(w, 0.50), quantile(w, 0.95), quantile(w, 0.99)
}

func quantile(sorted []float64, q float64) float64 {
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// exportedMetric is the per-metric entry in the JSON export.
type exportedMetric struct {
	Type        MetricType             `json:"type"`
	Description string                 `json:"description"`
	Values      map[string]float64     `json:"values,omitempty"`
	Series      map[string]seriesStats `json:"series,omitempty"`
}

type seriesStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// ExportJSON serializes every metric to the documented export shape:
// {timestamp, metrics:{name:{type, description, values/series}}}.
func (r *Registry) ExportJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := struct {
		Timestamp time.Time                 `json:"timestamp"`
		Metrics   map[string]exportedMetric `json:"metrics"`
	}{
		Timestamp: time.Now().UTC(),
		Metrics:   make(map[string]exportedMetric),
	}

	for name, c := range r.counters {
		c.mu.Lock()
		values := make(map[string]float64, len(c.values))
		for k, v := range c.values {
			values[k] = v
		}
		c.mu.Unlock()
		out.Metrics[name] = exportedMetric{
			Type:        TypeCounter,
			Description: c.description,
			Values:      values,
		}
	}
	for name, g := range r.gauges {
		g.mu.Lock()
		values := make(map[string]float64, len(g.values))
		for k, v := range g.values {
			values[k] = v
		}
		g.mu.Unlock()
		out.Metrics[name] = exportedMetric{
			Type:        TypeGauge,
			Description: g.description,
			Values:      values,
		}
	}
	for name, h := range r.histograms {
		h.mu.Lock()
		series := make(map[string]seriesStats, len(h.windows))
		for k, w := range h.windows {
			cp := append([]float64(nil), w...)
			p50, p95, p99 := percentiles(cp)
			series[k] = seriesStats{Count: len(w), P50: p50, P95: p95, P99: p99}
		}
		h.mu.Unlock()
		out.Metrics[name] = exportedMetric{
			Type:        TypeHistogram,
			Description: h.description,
			Series:      series,
		}
	}

	return json.Marshal(out)
}
