package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	todoOpsCounter      metric.Int64Counter
	rebalanceCounter    metric.Int64Counter
	rebalanceMoves      metric.Int64Counter
	rebalanceDuration   metric.Float64Histogram
	snapshotDuration    metric.Float64Histogram
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	priorityBuckets     metric.Int64Gauge
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		todoOpsCounter, err = m.Int64Counter("farmcoord_todo_operations_total", metric.WithDescription("Total todo operations (create, bulk, transition, delete)"))
		if err != nil {
			return
		}
		rebalanceCounter, err = m.Int64Counter("farmcoord_rebalances_total", metric.WithDescription("Total rebalance runs by outcome"))
		if err != nil {
			return
		}
		rebalanceMoves, err = m.Int64Counter("farmcoord_rebalance_moves_total", metric.WithDescription("Total todos moved by the balancer"))
		if err != nil {
			return
		}
		rebalanceDuration, err = m.Float64Histogram("farmcoord_rebalance_duration_seconds", metric.WithDescription("Rebalance duration in seconds"))
		if err != nil {
			return
		}
		snapshotDuration, err = m.Float64Histogram("farmcoord_snapshot_rebuild_duration_seconds", metric.WithDescription("Coordination snapshot rebuild duration in seconds"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("farmcoord_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		priorityBuckets, err = m.Int64Gauge("farmcoord_priority_bucket_todos", metric.WithDescription("Todos per priority bucket after the latest classification"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("farmcoord_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTodoOp records a todo operation (create, bulk_create, transition, etc.).
func RecordTodoOp(ctx context.Context, op string, farm string, status string) {
	if todoOpsCounter == nil {
		return
	}
	todoOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrFarm.String(farm),
		AttrStatus.String(status),
	))
}

// RecordRebalance records one rebalance run, its outcome, move count, and duration.
func RecordRebalance(ctx context.Context, farm, outcome string, moves int, duration time.Duration) {
	if rebalanceCounter != nil {
		rebalanceCounter.Add(ctx, 1, metric.WithAttributes(AttrFarm.String(farm), attribute.String("outcome", outcome)))
	}
	if rebalanceMoves != nil && moves > 0 {
		rebalanceMoves.Add(ctx, int64(moves), metric.WithAttributes(AttrFarm.String(farm)))
	}
	if rebalanceDuration != nil {
		rebalanceDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrFarm.String(farm)))
	}
}

// RecordSnapshotRebuild records the cost of rebuilding one farm snapshot.
func RecordSnapshotRebuild(ctx context.Context, farm string, duration time.Duration) {
	if snapshotDuration != nil {
		snapshotDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrFarm.String(farm)))
	}
}

// RecordPriorityBuckets records the bucket sizes from the latest priority
// classification of one farm.
func RecordPriorityBuckets(ctx context.Context, farm string, immediate, planned, longTerm int) {
	if priorityBuckets == nil {
		return
	}
	for _, b := range []struct {
		name string
		n    int
	}{
		{"immediate", immediate},
		{"planned", planned},
		{"long_term", longTerm},
	} {
		priorityBuckets.Record(ctx, int64(b.n), metric.WithAttributes(AttrFarm.String(farm), AttrBucket.String(b.name)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}

// TodoCountFunc returns (pending, in_progress, completed, cancelled) counts.
// Used for the farmcoord_todos_total gauge.
type TodoCountFunc func() (pending, inProgress, completed, cancelled int64)

// InitMetricsWithTodoCount creates instruments and optionally registers a callback for todo gauges.
// Call after InitMeterProvider. If todoCount is nil, todo gauges are not reported.
func InitMetricsWithTodoCount(ctx context.Context, todoCount TodoCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if todoCount == nil {
		return nil
	}
	m := Meter()
	todosGauge, err := m.Float64ObservableGauge("farmcoord_todos_total", metric.WithDescription("Number of todos by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		pending, inProgress, completed, cancelled := todoCount()
		o.ObserveFloat64(todosGauge, float64(pending), metric.WithAttributes(AttrStatus.String("pending")))
		o.ObserveFloat64(todosGauge, float64(inProgress), metric.WithAttributes(AttrStatus.String("in_progress")))
		o.ObserveFloat64(todosGauge, float64(completed), metric.WithAttributes(AttrStatus.String("completed")))
		o.ObserveFloat64(todosGauge, float64(cancelled), metric.WithAttributes(AttrStatus.String("cancelled")))
		return nil
	}, todosGauge)
	return err
}
