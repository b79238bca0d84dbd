// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/netover/hwav5-sub002/pkg/errors"
	"github.com/netover/hwav5-sub002/pkg/health"
	"github.com/netover/hwav5-sub002/pkg/resilience"
)

// GatewayMetrics mirrors the gateway's error, health and breaker signals
// into OpenTelemetry so they reach the exporter configured at startup.
type GatewayMetrics struct {
	errorCounter    metric.Int64Counter
	recoveryCounter metric.Int64Counter
	healthGauge     metric.Int64Gauge
	breakerGauge    metric.Int64Gauge
}

// NewGatewayMetrics creates the OTel instruments.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter("tws-gateway")

	errorCounter, err := meter.Int64Counter(
		"gateway.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"gateway.recoveries.total",
		metric.WithDescription("Component recovery attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	healthGauge, err := meter.Int64Gauge(
		"gateway.health.status",
		metric.WithDescription("Component health (0=unhealthy, 1=degraded, 2=healthy, 3=unknown)"),
	)
	if err != nil {
		return nil, err
	}

	breakerGauge, err := meter.Int64Gauge(
		"gateway.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per name (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		errorCounter:    errorCounter,
		recoveryCounter: recoveryCounter,
		healthGauge:     healthGauge,
		breakerGauge:    breakerGauge,
	}, nil
}

// RecordError counts one error, labelled with its taxonomy code.
func (m *GatewayMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", string(errors.CodeOf(err))),
		attribute.String("component", component),
	))
}

// RecordRecovery counts one recovery attempt.
func (m *GatewayMetrics) RecordRecovery(ctx context.Context, result health.RecoveryResult) {
	if m == nil {
		return
	}
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	m.recoveryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", result.Component),
		attribute.String("outcome", outcome),
	))
}

// RecordHealth publishes the per-component verdicts of a report.
func (m *GatewayMetrics) RecordHealth(ctx context.Context, report *health.Report) {
	if m == nil || report == nil {
		return
	}
	for name, c := range report.Components {
		m.healthGauge.Record(ctx, healthValue(c.Status), metric.WithAttributes(
			attribute.String("component", name),
		))
	}
}

func healthValue(s health.Status) int64 {
	switch s {
	case health.StatusUnhealthy:
		return 0
	case health.StatusDegraded:
		return 1
	case health.StatusHealthy:
		return 2
	default:
		return 3
	}
}

// RecordBreakers publishes a snapshot of every circuit breaker's state.
func (m *GatewayMetrics) RecordBreakers(ctx context.Context, snapshot map[string]resilience.CircuitBreakerMetrics) {
	if m == nil {
		return
	}
	for name, bm := range snapshot {
		m.breakerGauge.Record(ctx, breakerValue(bm.State), metric.WithAttributes(
			attribute.String("name", name),
		))
	}
}

func breakerValue(s resilience.CircuitBreakerState) int64 {
	switch s {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
