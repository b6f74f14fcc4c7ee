package worker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RegisterMetrics exports the monitor counters on meter. The returned
// registration should be unregistered on shutdown.
func (m *Monitor) RegisterMetrics(meter metric.Meter) (metric.Registration, error) {
	sweeps, err := meter.Int64ObservableCounter("aistatus.sweeps",
		metric.WithDescription("Completed probe sweeps"))
	if err != nil {
		return nil, fmt.Errorf("creating sweeps counter: %w", err)
	}
	probes, err := meter.Int64ObservableCounter("aistatus.probes",
		metric.WithDescription("Provider probes by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating probes counter: %w", err)
	}
	incidents, err := meter.Int64ObservableCounter("aistatus.incidents",
		metric.WithDescription("Incidents opened and resolved by sweeps"))
	if err != nil {
		return nil, fmt.Errorf("creating incidents counter: %w", err)
	}
	sent, err := meter.Int64ObservableCounter("aistatus.notifications.sent",
		metric.WithDescription("Notifications delivered by drains"))
	if err != nil {
		return nil, fmt.Errorf("creating notifications counter: %w", err)
	}
	dropped, err := meter.Int64ObservableCounter("aistatus.notifications.dropped",
		metric.WithDescription("Status change events dropped before enqueueing"))
	if err != nil {
		return nil, fmt.Errorf("creating dropped notifications counter: %w", err)
	}
	lastSweep, err := meter.Float64ObservableGauge("aistatus.sweep.duration",
		metric.WithDescription("Duration of the last probe sweep"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating sweep duration gauge: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(dropped, m.drainer.DroppedEvents())

		m.metrics.mu.RLock()
		defer m.metrics.mu.RUnlock()

		o.ObserveInt64(sweeps, m.metrics.TotalSweeps)
		o.ObserveInt64(probes, m.metrics.ProvidersChecked-m.metrics.UnknownResults,
			metric.WithAttributes(attribute.String("outcome", "known")))
		o.ObserveInt64(probes, m.metrics.UnknownResults,
			metric.WithAttributes(attribute.String("outcome", "unknown")))
		o.ObserveInt64(probes, m.metrics.SkippedChecks,
			metric.WithAttributes(attribute.String("outcome", "skipped")))
		o.ObserveInt64(incidents, m.metrics.IncidentsCreated,
			metric.WithAttributes(attribute.String("action", "created")))
		o.ObserveInt64(incidents, m.metrics.IncidentsClosed,
			metric.WithAttributes(attribute.String("action", "resolved")))
		o.ObserveInt64(sent, m.metrics.NotificationsOut)
		o.ObserveFloat64(lastSweep, m.metrics.LastSweepDuration.Seconds())
		return nil
	}, sweeps, probes, incidents, sent, dropped, lastSweep)
}
