package roadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pathforge/roadgen/pkg/roadgen/checkpoint"
	"github.com/pathforge/roadgen/pkg/roadgen/config"
	"github.com/pathforge/roadgen/pkg/roadgen/observability"
)

// RunStatus is the terminal outcome of a run.
type RunStatus string

// Terminal run outcomes.
const (
	// StatusRunning means the run has not reached a terminal state.
	StatusRunning RunStatus = "running"

	// StatusSucceeded means the run finalized. Individual units may
	// still have failed; the result enumerates them.
	StatusSucceeded RunStatus = "succeeded"

	// StatusFatal means an unrecoverable error (state validation,
	// budget exhaustion, remote admission timeout) ended the run early.
	StatusFatal RunStatus = "fatal"

	// StatusCancelled means the caller cancelled the run between steps.
	StatusCancelled RunStatus = "cancelled"
)

// Result is the final outcome of a run, with per-unit dispositions.
type Result struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	Success bool      `json:"success"`

	UnitsCompleted []string      `json:"units_completed"`
	UnitsFailed    []UnitFailure `json:"units_failed"`
	TotalSteps     int           `json:"total_steps"`

	// Error describes the fatal error for non-succeeded runs.
	Error string `json:"error,omitempty"`
}

// runHandle tracks one in-flight or finished run.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  GenerationState
	result *Result
}

func (h *runHandle) publish(state GenerationState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

func (h *runHandle) snapshot() GenerationState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Engine is the caller-facing surface of the generation workflow:
// submit a request, observe progress, collect the result, cancel.
// Safe for concurrent use; concurrent runs share one rate limiter
// through the pipeline's retry executor.
type Engine struct {
	pipeline    *Pipeline
	graph       *CompiledGraph
	checkpoints checkpoint.Store
	budget      BudgetParams
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	runOpts     []RunOption

	mu   sync.Mutex
	runs map[string]*runHandle
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCheckpoints sets the checkpoint store for crash resumability.
// Without it runs are not resumable.
func WithCheckpoints(s checkpoint.Store) EngineOption {
	return func(e *Engine) { e.checkpoints = s }
}

// WithBudgetParams sets the step-budget formula parameters.
func WithBudgetParams(p BudgetParams) EngineOption {
	return func(e *Engine) { e.budget = p }
}

// WithEngineLogger sets the logger for run lifecycle events.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithEngineMetrics sets the metrics recorder passed to every run.
func WithEngineMetrics(m observability.MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithRunOptions appends options applied to every Run and Resume
// (e.g. WithTracing, WithCheckpointFailureFatal).
func WithRunOptions(opts ...RunOption) EngineOption {
	return func(e *Engine) { e.runOpts = append(e.runOpts, opts...) }
}

// NewEngine compiles the pipeline's graph and returns a ready engine.
func NewEngine(p *Pipeline, opts ...EngineOption) (*Engine, error) {
	graph, err := p.BuildGraph()
	if err != nil {
		return nil, fmt.Errorf("build pipeline graph: %w", err)
	}

	e := &Engine{
		pipeline: p,
		graph:    graph,
		budget:   DefaultBudgetParams(),
		metrics:  observability.NoopMetrics{},
		runs:     make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EngineOptionsFromConfig maps a runtime configuration section to
// engine options.
//
// Recognized sections: budget (see BudgetParamsFromConfig).
func EngineOptionsFromConfig(cfg config.Config) []EngineOption {
	var opts []EngineOption
	if cfg.Has("budget") {
		opts = append(opts, WithBudgetParams(BudgetParamsFromConfig(cfg.Section("budget"))))
	}
	return opts
}

// Submit validates the request and starts a run, returning its ID.
// The run executes on its own goroutine; use GetProgress, GetResult,
// and Cancel with the returned ID. Invalid requests fail here, before
// any state is created.
func (e *Engine) Submit(ctx context.Context, req GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	runID := uuid.New().String()
	state := NewGenerationState(runID, req)
	e.launch(ctx, runID, state, e.startRun)
	return runID, nil
}

// Resume restarts a previously checkpointed run from its latest
// snapshot. The resumed run executes on its own goroutine under the
// same observation surface as a fresh run.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	if e.checkpoints == nil {
		return fmt.Errorf("resume %s: %w", runID, ErrNoCheckpoints)
	}
	data, err := e.checkpoints.Load(runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
		}
		return fmt.Errorf("resume %s: %w", runID, err)
	}

	// Peek the snapshot so the step budget and the initial progress
	// reflect the original request scope.
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	var state GenerationState
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	e.launch(ctx, runID, state, e.startResume)
	return nil
}

type runFunc func(ctx Context, runID string, state GenerationState, opts []RunOption) (GenerationState, error)

// launch registers a handle and starts the run goroutine.
func (e *Engine) launch(ctx context.Context, runID string, state GenerationState, fn runFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &runHandle{
		cancel: cancel,
		done:   make(chan struct{}),
		state:  state,
	}

	e.mu.Lock()
	e.runs[runID] = h
	e.mu.Unlock()

	opts := e.buildRunOptions(runID, state.Request, h)
	execCtx := NewContext(runCtx,
		WithContextRunID(runID),
		WithContextLogger(e.logger),
	)

	go func() {
		defer close(h.done)
		defer cancel()

		final, err := fn(execCtx, runID, state, opts)
		result := e.classify(runID, final, err)

		h.mu.Lock()
		h.state = final
		h.result = &result
		h.mu.Unlock()
	}()
}

func (e *Engine) startRun(ctx Context, runID string, state GenerationState, opts []RunOption) (GenerationState, error) {
	return e.graph.Run(ctx, state, opts...)
}

func (e *Engine) startResume(ctx Context, runID string, _ GenerationState, opts []RunOption) (GenerationState, error) {
	return e.graph.Resume(ctx, e.checkpoints, runID, opts...)
}

func (e *Engine) buildRunOptions(runID string, req GenerationRequest, h *runHandle) []RunOption {
	opts := []RunOption{
		WithRunID(runID),
		WithStepBudget(ComputeStepBudget(req.TargetDays, e.budget)),
		WithMetrics(e.metrics),
		WithStepHook(h.publish),
	}
	if e.logger != nil {
		opts = append(opts, WithRunLogger(e.logger))
	}
	if e.checkpoints != nil {
		opts = append(opts, WithCheckpointStore(e.checkpoints))
	}
	return append(opts, e.runOpts...)
}

// classify maps the run's final state and error to a Result.
func (e *Engine) classify(runID string, state GenerationState, err error) Result {
	completed := make([]string, 0, len(state.Units))
	for i := range state.Units {
		if state.Units[i].Status == UnitComplete {
			completed = append(completed, state.Units[i].ID)
		}
	}

	res := Result{
		RunID:          runID,
		UnitsCompleted: completed,
		UnitsFailed:    state.Failures,
		TotalSteps:     state.Steps,
	}

	switch {
	case err == nil:
		res.Status = StatusSucceeded
		res.Success = true
	case isCancellation(err):
		res.Status = StatusCancelled
		res.Error = err.Error()
	default:
		res.Status = StatusFatal
		res.Error = err.Error()
	}
	return res
}

func isCancellation(err error) bool {
	var cancelErr *CancellationError
	return errors.As(err, &cancelErr) || errors.Is(err, context.Canceled)
}

// GetProgress returns the current progress projection for a run.
func (e *Engine) GetProgress(runID string) (Progress, error) {
	h, ok := e.handle(runID)
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return h.snapshot().Progress, nil
}

// GetResult returns the run's final result. It fails with
// ErrRunActive until the run reaches a terminal state.
func (e *Engine) GetResult(runID string) (Result, error) {
	h, ok := e.handle(runID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	return *h.result, nil
}

// Wait blocks until the run reaches a terminal state, then returns
// its result. Honors ctx cancellation.
func (e *Engine) Wait(ctx context.Context, runID string) (Result, error) {
	h, ok := e.handle(runID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	select {
	case <-h.done:
		return e.GetResult(runID)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel requests cancellation of a run. The run stops between steps;
// an in-flight remote call is allowed to complete rather than being
// torn down, so paid-for partial work is not discarded.
func (e *Engine) Cancel(runID string) error {
	h, ok := e.handle(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	h.cancel()
	return nil
}

func (e *Engine) handle(runID string) (*runHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.runs[runID]
	return h, ok
}
