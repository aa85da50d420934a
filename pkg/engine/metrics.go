package engine

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var meter = otel.Meter("notesync.engine")

var (
	mutationsTotal  metric.Int64Counter
	refreshesTotal  metric.Int64Counter
	changesTotal    metric.Int64Counter
	syncStartsTotal metric.Int64Counter

	metricsOnce sync.Once
)

// initMetrics registers the engine instruments. Safe to call multiple times.
// An instrument that fails to register falls back to a no-op.
func initMetrics() {
	metricsOnce.Do(func() {
		mutationsTotal = counter("notesync_mutations_total", "Note mutations issued against the backend")
		refreshesTotal = counter("notesync_refreshes_total", "Full refreshes of the record store")
		changesTotal = counter("notesync_changes_total", "Remote change events received")
		syncStartsTotal = counter("notesync_sync_starts_total", "Sync start attempts")
	})
}

func counter(name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func recordMutation(ctx context.Context, op string, err error) {
	initMetrics()
	mutationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("ok", err == nil),
	))
}

func recordRefresh(ctx context.Context, err error) {
	initMetrics()
	refreshesTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", err == nil)))
}

func recordChange(ctx context.Context, op string) {
	initMetrics()
	changesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func recordSyncStart(ctx context.Context, err error) {
	initMetrics()
	syncStartsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", err == nil)))
}
