package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records generation engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordRun records a generation run completion.
	RecordRun(ctx context.Context, success bool, duration time.Duration)

	// RecordUnitOutcome records a unit reaching a terminal status.
	RecordUnitOutcome(ctx context.Context, status string, attempts int)

	// RecordRemoteCall records one outbound model call.
	RecordRemoteCall(ctx context.Context, op string, duration time.Duration, err error)

	// RecordRateWait records time spent waiting on the rate limiter.
	RecordRateWait(ctx context.Context, wait time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	unitOutcomes   metric.Int64Counter
	remoteCalls    metric.Int64Counter
	remoteLatency  metric.Float64Histogram
	rateWait       metric.Float64Histogram
	checkpointSize metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("roadgen")

	nodeExecutions, err := meter.Int64Counter("roadgen.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeLatency, err := meter.Float64Histogram("roadgen.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	nodeErrors, err := meter.Int64Counter("roadgen.node.errors",
		metric.WithDescription("Number of node execution errors"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("roadgen.run.count",
		metric.WithDescription("Number of generation runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("roadgen.run.latency_ms",
		metric.WithDescription("Generation run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	unitOutcomes, err := meter.Int64Counter("roadgen.unit.outcomes",
		metric.WithDescription("Units reaching a terminal status"),
	)
	if err != nil {
		return nil, err
	}

	remoteCalls, err := meter.Int64Counter("roadgen.remote.calls",
		metric.WithDescription("Outbound model calls"),
	)
	if err != nil {
		return nil, err
	}

	remoteLatency, err := meter.Float64Histogram("roadgen.remote.latency_ms",
		metric.WithDescription("Outbound model call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rateWait, err := meter.Float64Histogram("roadgen.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting on the rate limiter"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("roadgen.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		nodeExecutions: nodeExecutions,
		nodeLatency:    nodeLatency,
		nodeErrors:     nodeErrors,
		runs:           runs,
		runLatency:     runLatency,
		unitOutcomes:   unitOutcomes,
		remoteCalls:    remoteCalls,
		remoteLatency:  remoteLatency,
		rateWait:       rateWait,
		checkpointSize: checkpointSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("node_id", nodeID),
	}

	m.nodeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.nodeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRun records a generation run.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordUnitOutcome records a unit reaching Complete or Failed.
func (m *otelMetrics) RecordUnitOutcome(ctx context.Context, status string, attempts int) {
	m.unitOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("attempts", attempts),
	))
}

// RecordRemoteCall records one outbound model call.
func (m *otelMetrics) RecordRemoteCall(ctx context.Context, op string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	}
	m.remoteCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.remoteLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordRateWait records rate limiter wait time.
func (m *otelMetrics) RecordRateWait(ctx context.Context, wait time.Duration) {
	m.rateWait.Record(ctx, float64(wait.Milliseconds()))
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	attrs := []attribute.KeyValue{
		attribute.String("node_id", nodeID),
	}
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))
}
