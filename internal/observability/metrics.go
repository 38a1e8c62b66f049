// Package observability exposes run metrics: OTel instruments collected
// into a Prometheus registry served on an optional /metrics endpoint for
// the duration of a run.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricExportedTotal  = "arcflow.records.exported.total"
	metricDeletedTotal   = "arcflow.records.deleted.total"
	metricItemErrors     = "arcflow.item.errors.total"
	metricBatchesTotal   = "arcflow.index.batches.total"
	metricExportDuration = "arcflow.export.duration.seconds"
	metricRunsTotal      = "arcflow.runs.total"

	attrKind   = "kind"
	attrPhase  = "phase"
	attrStatus = "status"
)

// exportBucketBoundaries covers 50ms API round trips up to multi-minute
// EAD serializations of very large finding aids.
var exportBucketBoundaries = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// SyncMetrics holds the OTel instruments for one sync run.
type SyncMetrics struct {
	exportedTotal  metric.Int64Counter
	deletedTotal   metric.Int64Counter
	itemErrors     metric.Int64Counter
	batchesTotal   metric.Int64Counter
	exportDuration metric.Float64Histogram
	runsTotal      metric.Int64Counter
}

// NewSyncMetrics creates sync metric instruments from the given meter.
func NewSyncMetrics(mt metric.Meter) (*SyncMetrics, error) {
	b := newMetricBuilder(mt)

	sm := &SyncMetrics{
		exportedTotal:  b.counter(metricExportedTotal, "Records exported to staging", "{record}"),
		deletedTotal:   b.counter(metricDeletedTotal, "Records removed from staging and index", "{record}"),
		itemErrors:     b.counter(metricItemErrors, "Per-item failures by phase", "{error}"),
		batchesTotal:   b.counter(metricBatchesTotal, "Indexing batches by status", "{batch}"),
		exportDuration: b.histogram(metricExportDuration, "Per-record export duration in seconds", "s", exportBucketBoundaries...),
		runsTotal:      b.counter(metricRunsTotal, "Completed runs by terminal status", "{run}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return sm, nil
}

// RecordExport records one staged record export.
// Safe to call on a nil receiver (no-op).
func (sm *SyncMetrics) RecordExport(ctx context.Context, kind string, duration time.Duration) {
	if sm == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrKind, kind))

	sm.exportedTotal.Add(ctx, 1, attrs)
	sm.exportDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDelete records one reconciled deletion.
func (sm *SyncMetrics) RecordDelete(ctx context.Context, kind string) {
	if sm == nil {
		return
	}

	sm.deletedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// RecordItemError records a per-item failure in the named phase
// (export, reconcile, index).
func (sm *SyncMetrics) RecordItemError(ctx context.Context, phase string) {
	if sm == nil {
		return
	}

	sm.itemErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(attrPhase, phase)))
}

// RecordBatch records one finished indexing batch.
func (sm *SyncMetrics) RecordBatch(ctx context.Context, failed bool) {
	if sm == nil {
		return
	}

	status := "success"
	if failed {
		status = "failure"
	}

	sm.batchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordRun records the run's terminal status.
func (sm *SyncMetrics) RecordRun(ctx context.Context, status string) {
	if sm == nil {
		return
	}

	sm.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}
