// Package observability provides structured logging, metrics, and
// tracing for the generation engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id, node_id, and unit_id fields.
func EnrichLogger(logger *slog.Logger, runID, nodeID, unitID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.String("unit_id", unitID),
	)
}

// LogRunStart logs the start of a generation run.
func LogRunStart(logger *slog.Logger, runID string, unitsPlanned int) {
	if logger == nil {
		return
	}
	logger.Info("generation run starting",
		slog.String("run_id", runID),
		slog.Int("units_planned", unitsPlanned),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, steps, completed, failed int) {
	if logger == nil {
		return
	}
	logger.Info("generation run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps", steps),
		slog.Int("units_completed", completed),
		slog.Int("units_failed", failed),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("generation run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogUnitRetry logs a scheduled unit retry with its backoff.
func LogUnitRetry(logger *slog.Logger, unitID string, attempt int, backoff time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("unit generation failed, retry scheduled",
		slog.String("unit_id", unitID),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)
}

// LogUnitFailed logs a unit exhausting its retry budget.
func LogUnitFailed(logger *slog.Logger, unitID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("unit permanently failed",
		slog.String("unit_id", unitID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogCallRetry logs a scheduled retry of a single remote call.
func LogCallRetry(logger *slog.Logger, op string, attempt int, backoff time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("remote call failed, retry scheduled",
		slog.String("op", op),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)
}

// LogCallExhausted logs a remote call exhausting its retry budget.
func LogCallExhausted(logger *slog.Logger, op string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("remote call exhausted retries",
		slog.String("op", op),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogRateWait logs a rate-limiter induced wait.
func LogRateWait(logger *slog.Logger, wait time.Duration, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("rate limiter wait",
		slog.Duration("wait", wait),
		slog.String("reason", reason),
	)
}

// LogLedgerDegraded logs fallback from the shared rate ledger to the
// local in-process ledger.
func LogLedgerDegraded(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Warn("shared rate ledger unavailable, using local ledger",
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, nodeID string, step, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("step", step),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs checkpoint failure (non-fatal).
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed, resumability degraded for this step",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
