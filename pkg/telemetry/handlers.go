// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"encoding/json"
	"net/http"

	"github.com/netover/hwav5-sub002/pkg/health"
	"github.com/netover/hwav5-sub002/pkg/metrics"
)

// MetricsHandler serves the JSON dump of the metrics registry.
func MetricsHandler(reg *metrics.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := reg.ExportJSON()
		if err != nil {
			http.Error(w, `{"error":"metrics export failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// HealthHandler runs a fresh comprehensive check and serves the report.
// DEGRADED still answers 200; only UNHEALTHY turns into 503 so load
// balancers drain the instance.
func HealthHandler(o *health.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := o.PerformComprehensiveHealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == health.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler is the cheap liveness endpoint: no probes, just proof
// the process answers.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
