package roadgen

import (
	"log/slog"

	"github.com/pathforge/roadgen/pkg/roadgen/checkpoint"
	"github.com/pathforge/roadgen/pkg/roadgen/observability"
)

// runConfig holds configuration for one Run or Resume invocation.
type runConfig struct {
	stepBudget int

	checkpointStore        checkpoint.Store
	runID                  string
	checkpointFailureFatal bool

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	// stepHook observes state after each transition.
	stepHook func(GenerationState)
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		stepBudget: DefaultBudgetParams().MaxBudget,
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithStepBudget caps the number of state-machine transitions for the
// run. Exceeding it fails the run with a BudgetExceededError. Use
// ComputeStepBudget to derive the cap from the request scope.
func WithStepBudget(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.stepBudget = n
		}
	}
}

// WithCheckpointStore enables checkpointing after every transition.
// Requires WithRunID.
func WithCheckpointStore(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithRunID sets the run identifier used as the checkpoint key.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithCheckpointFailureFatal makes checkpoint save failures abort the
// run instead of logging and continuing.
func WithCheckpointFailureFatal() RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = true
	}
}

// WithRunLogger sets the logger for run and node lifecycle events.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder for run, node, and checkpoint
// metrics.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for the run and each node.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if spans != nil {
			c.spans = spans
			c.tracingEnabled = true
		}
	}
}

// WithStepHook installs an observer called with a copy of the state
// after every transition. The engine uses it to publish progress.
func WithStepHook(hook func(GenerationState)) RunOption {
	return func(c *runConfig) {
		c.stepHook = hook
	}
}
