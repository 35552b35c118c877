package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/hook"
	"github.com/tidemark/orderflow/order"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/tidemark/orderflow/observability"

// Compile-time interface checks.
var (
	_ hook.Extension           = (*MetricsExtension)(nil)
	_ hook.OrderCreated        = (*MetricsExtension)(nil)
	_ hook.StageCompleted      = (*MetricsExtension)(nil)
	_ hook.StageFailed         = (*MetricsExtension)(nil)
	_ hook.RetryScheduled      = (*MetricsExtension)(nil)
	_ hook.OrderCompleted      = (*MetricsExtension)(nil)
	_ hook.OrderCancelled      = (*MetricsExtension)(nil)
	_ hook.CompensationStarted = (*MetricsExtension)(nil)
	_ hook.EventDeadLettered   = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via the OTel
// metric API. Register it as an orderflow extension to automatically
// track creation rates, stage outcomes, retry counts, compensation runs,
// terminal counts, and DLQ entries. With no MeterProvider configured the
// instruments are noops.
type MetricsExtension struct {
	ordersCreated   metric.Int64Counter
	stagesCompleted metric.Int64Counter
	stagesFailed    metric.Int64Counter
	retriesSched    metric.Int64Counter
	ordersCompleted metric.Int64Counter
	ordersCancelled metric.Int64Counter
	compensations   metric.Int64Counter
	deadLettered    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.ordersCreated, _ = meter.Int64Counter("orderflow.orders.created",
		metric.WithDescription("Orders accepted into the pipeline"))
	m.stagesCompleted, _ = meter.Int64Counter("orderflow.stages.completed",
		metric.WithDescription("Stage executions that succeeded"))
	m.stagesFailed, _ = meter.Int64Counter("orderflow.stages.failed",
		metric.WithDescription("Stage attempts that failed"))
	m.retriesSched, _ = meter.Int64Counter("orderflow.retries.scheduled",
		metric.WithDescription("Stage retries scheduled"))
	m.ordersCompleted, _ = meter.Int64Counter("orderflow.orders.completed",
		metric.WithDescription("Orders that reached COMPLETED"))
	m.ordersCancelled, _ = meter.Int64Counter("orderflow.orders.cancelled",
		metric.WithDescription("Orders that reached CANCELLED"))
	m.compensations, _ = meter.Int64Counter("orderflow.compensations.started",
		metric.WithDescription("Orders that began compensation"))
	m.deadLettered, _ = meter.Int64Counter("orderflow.events.dead_lettered",
		metric.WithDescription("Change events parked in the DLQ"))
	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnOrderCreated implements hook.OrderCreated.
func (m *MetricsExtension) OnOrderCreated(ctx context.Context, _ *order.Order) error {
	m.ordersCreated.Add(ctx, 1)
	return nil
}

// OnStageCompleted implements hook.StageCompleted.
func (m *MetricsExtension) OnStageCompleted(ctx context.Context, _ *order.Order, stageName string, _ time.Duration) error {
	m.stagesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stageName)))
	return nil
}

// OnStageFailed implements hook.StageFailed.
func (m *MetricsExtension) OnStageFailed(ctx context.Context, _ *order.Order, stageName string, _ string) error {
	m.stagesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stageName)))
	return nil
}

// OnRetryScheduled implements hook.RetryScheduled.
func (m *MetricsExtension) OnRetryScheduled(ctx context.Context, _ *order.Order, stageName string, _ int, _ time.Time) error {
	m.retriesSched.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stageName)))
	return nil
}

// OnOrderCompleted implements hook.OrderCompleted.
func (m *MetricsExtension) OnOrderCompleted(ctx context.Context, _ *order.Order) error {
	m.ordersCompleted.Add(ctx, 1)
	return nil
}

// OnOrderCancelled implements hook.OrderCancelled.
func (m *MetricsExtension) OnOrderCancelled(ctx context.Context, _ *order.Order) error {
	m.ordersCancelled.Add(ctx, 1)
	return nil
}

// OnCompensationStarted implements hook.CompensationStarted.
func (m *MetricsExtension) OnCompensationStarted(ctx context.Context, _ *order.Order) error {
	m.compensations.Add(ctx, 1)
	return nil
}

// OnEventDeadLettered implements hook.EventDeadLettered.
func (m *MetricsExtension) OnEventDeadLettered(ctx context.Context, _ *dlq.Entry) error {
	m.deadLettered.Add(ctx, 1)
	return nil
}
