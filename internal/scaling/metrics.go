package scaling

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RegisterMetrics exports pool gauges on meter. The returned registration
// should be unregistered on shutdown.
func (c *Controller) RegisterMetrics(meter metric.Meter) (metric.Registration, error) {
	total, err := meter.Int64ObservableGauge("aistatus.workers.total",
		metric.WithDescription("Configured workers per pool"))
	if err != nil {
		return nil, fmt.Errorf("creating total workers gauge: %w", err)
	}
	healthy, err := meter.Int64ObservableGauge("aistatus.workers.healthy",
		metric.WithDescription("Workers per pool weighted by last cycle success rate"))
	if err != nil {
		return nil, fmt.Errorf("creating healthy workers gauge: %w", err)
	}
	queue, err := meter.Int64ObservableGauge("aistatus.queue.length",
		metric.WithDescription("Work waiting after the last cycle per pool"))
	if err != nil {
		return nil, fmt.Errorf("creating queue length gauge: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, s := range c.Health() {
			attrs := metric.WithAttributes(attribute.String("pool", s.Name))
			o.ObserveInt64(total, int64(s.TotalWorkers), attrs)
			o.ObserveInt64(healthy, int64(s.HealthyWorkers), attrs)
			o.ObserveInt64(queue, int64(s.QueueLength), attrs)
		}
		return nil
	}, total, healthy, queue)
}
