// Package telemetry records delivery and scheduling outcomes with OpenTelemetry.
//
// If no MeterProvider is configured, the global noop provider is used and
// every recording call is free.
//
// Instruments:
//   - push.deliveries (Int64Counter): one per delivery attempt, attribute outcome
//   - push.evictions (Int64Counter): subscriptions removed after a permanent failure
//   - push.tasks (Int64Counter): scheduled task lifecycle, attribute event
//     ("scheduled", "fired", "cancelled")
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tinywideclouds/go-push-scheduler/pkg/push"
)

// meterName is the instrumentation scope name.
const meterName = "github.com/tinywideclouds/go-push-scheduler"

const (
	TaskScheduled = "scheduled"
	TaskFired     = "fired"
	TaskCancelled = "cancelled"
)

type Metrics struct {
	deliveries metric.Int64Counter
	evictions  metric.Int64Counter
	tasks      metric.Int64Counter
}

// New uses the global MeterProvider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter allows injecting a specific MeterProvider for testing.
func NewWithMeter(meter metric.Meter) *Metrics {
	// On error the API hands back noop instruments, so recording degrades gracefully.
	deliveries, _ := meter.Int64Counter(
		"push.deliveries",
		metric.WithDescription("Delivery attempts by outcome"),
		metric.WithUnit("{delivery}"),
	)
	evictions, _ := meter.Int64Counter(
		"push.evictions",
		metric.WithDescription("Subscriptions evicted after a permanent delivery failure"),
		metric.WithUnit("{subscription}"),
	)
	tasks, _ := meter.Int64Counter(
		"push.tasks",
		metric.WithDescription("Scheduled task lifecycle events"),
		metric.WithUnit("{task}"),
	)
	return &Metrics{deliveries: deliveries, evictions: evictions, tasks: tasks}
}

func (m *Metrics) RecordDelivery(ctx context.Context, kind push.Kind, outcome push.Outcome) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome.String()),
		attribute.String("kind", string(kind)),
	))
}

func (m *Metrics) RecordEvictions(ctx context.Context, n int) {
	if n > 0 {
		m.evictions.Add(ctx, int64(n))
	}
}

func (m *Metrics) RecordTask(ctx context.Context, event string) {
	m.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
