package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/animagen/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	runsMetric          = "animagen_runs_total"
	blockDurationMetric = "animagen_block_duration_seconds"
	retriesMetric       = "animagen_retries_total"
	fetchBytesMetric    = "animagen_reference_fetch_bytes_total"

	labelOutcome   = "outcome"
	labelCode      = "code"
	labelBlockName = "block_name"
	labelOperation = "operation"
	labelSource    = "source"
)

var blockDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// PipelineMetrics records run outcomes, block latency, retries and reference
// downloads. It satisfies the executor and resolver observer interfaces.
type PipelineMetrics struct {
	runs          metric.Int64Counter
	blockDuration metric.Float64Histogram
	retries       metric.Int64Counter
	fetchBytes    metric.Int64Counter
}

func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	runs, err := meter.Int64Counter(runsMetric,
		metric.WithDescription("Generation runs by terminal outcome and error code"))
	if err != nil {
		return nil, fmt.Errorf("create counter %q: %w", runsMetric, err)
	}
	duration, err := meter.Float64Histogram(blockDurationMetric,
		metric.WithDescription("Block execution latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(blockDurationBuckets...))
	if err != nil {
		return nil, fmt.Errorf("create histogram %q: %w", blockDurationMetric, err)
	}
	retries, err := meter.Int64Counter(retriesMetric,
		metric.WithDescription("Retries of external calls"))
	if err != nil {
		return nil, fmt.Errorf("create counter %q: %w", retriesMetric, err)
	}
	fetchBytes, err := meter.Int64Counter(fetchBytesMetric,
		metric.WithDescription("Bytes of reference images loaded"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create counter %q: %w", fetchBytesMetric, err)
	}
	return &PipelineMetrics{runs: runs, blockDuration: duration, retries: retries, fetchBytes: fetchBytes}, nil
}

func mustPipelineMetrics(ctx context.Context, meter metric.Meter) *PipelineMetrics {
	pm, err := NewPipelineMetrics(meter)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create pipeline instruments", "error", err)
		return &PipelineMetrics{}
	}
	return pm
}

func (m *PipelineMetrics) ObserveRun(ctx context.Context, outcome, code string, _ time.Duration) {
	if m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelOutcome, outcome),
		attribute.String(labelCode, code),
	))
}

func (m *PipelineMetrics) ObserveBlock(ctx context.Context, blockName, outcome string, d time.Duration) {
	if m.blockDuration == nil {
		return
	}
	m.blockDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(labelBlockName, blockName),
		attribute.String(labelOutcome, outcome),
	))
}

func (m *PipelineMetrics) ObserveRetry(ctx context.Context, operation string) {
	if m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String(labelOperation, operation)))
}

func (m *PipelineMetrics) ObserveReferenceFetch(ctx context.Context, source string, bytes int) {
	if m.fetchBytes == nil {
		return
	}
	m.fetchBytes.Add(ctx, int64(bytes), metric.WithAttributes(attribute.String(labelSource, source)))
}
