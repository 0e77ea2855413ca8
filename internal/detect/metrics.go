package detect

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics instruments the detector. A nil *Metrics disables recording.
type Metrics struct {
	alerts     metric.Int64Counter
	tickErrors metric.Int64Counter
}

// NewMetrics registers the detector instruments on the global meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter("pulse.detect")

	m := &Metrics{alerts: nil, tickErrors: nil}

	m.alerts, _ = meter.Int64Counter("pulse_detect_alerts",
		metric.WithDescription("Anomaly alerts fired"),
		metric.WithUnit("{alert}"))

	m.tickErrors, _ = meter.Int64Counter("pulse_detect_tick_errors",
		metric.WithDescription("Evaluation passes that failed"),
		metric.WithUnit("{tick}"))

	return m
}

// RecordAlert counts a newly fired alert.
func (m *Metrics) RecordAlert(ctx context.Context, kpi string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("kpi", kpi)))
}

// RecordTickError counts a failed evaluation pass.
func (m *Metrics) RecordTickError(ctx context.Context, kpi string) {
	if m == nil || m.tickErrors == nil {
		return
	}
	m.tickErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kpi", kpi)))
}
