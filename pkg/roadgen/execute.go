package roadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen/checkpoint"
	"github.com/pathforge/roadgen/pkg/roadgen/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
//
// On success, returns the state after the last node executed before
// END. On error, returns the state at the point of failure.
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check the step budget and cancellation
//  3. Execute the current node (with panic recovery)
//  4. Refresh the progress projection
//  5. Determine the next node (simple or conditional edge)
//  6. Checkpoint the transition
//  7. Repeat until END is reached or an error occurs
func (cg *CompiledGraph) Run(ctx Context, state GenerationState, opts ...RunOption) (result GenerationState, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.runID == "" {
		return state, ErrRunIDRequired
	}

	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, runID, len(state.Units))

	var runSpan trace.Span
	if cfg.tracingEnabled {
		var spanCtx context.Context
		spanCtx, runSpan = cfg.spans.StartRunSpan(ctx, runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
		if ec, ok := ctx.(*executionContext); ok {
			derived := *ec
			derived.Context = spanCtx
			ctx = &derived
		}
	}

	result, runErr = cg.runFrom(ctx, state, cg.entry, &cfg)

	duration := time.Since(startTime)
	cfg.metrics.RecordRun(ctx, runErr == nil, duration)

	durationMs := float64(duration.Milliseconds())
	if runErr != nil {
		observability.LogRunError(cfg.logger, runID, runErr, durationMs, lastNodeOf(runErr))
	} else {
		completed, failed := result.UnitCounts()
		observability.LogRunComplete(cfg.logger, runID, durationMs, result.Steps, completed, failed)
	}

	return result, runErr
}

// lastNodeOf extracts the node where a run error occurred, if known.
func lastNodeOf(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.NodeID
	}
	var budgetErr *BudgetExceededError
	if errors.As(err, &budgetErr) {
		return budgetErr.LastNodeID
	}
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return cancelErr.NodeID
	}
	var stateErr *StateValidationError
	if errors.As(err, &stateErr) {
		return stateErr.NodeID
	}
	return ""
}

// runFrom executes the graph starting from a specific node. Resume
// enters here with the checkpointed state and node.
func (cg *CompiledGraph) runFrom(ctx Context, state GenerationState, startNode string, cfg *runConfig) (GenerationState, error) {
	current := startNode

	for current != END {
		// state.Steps counts transitions across resume, so the budget
		// bounds the whole run, not just this process lifetime.
		if state.Steps >= cfg.stepBudget {
			return state, &BudgetExceededError{
				Budget:     cfg.stepBudget,
				LastNodeID: current,
			}
		}

		select {
		case <-ctx.Done():
			return state, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  context.Cause(ctx),
			}
		default:
		}

		observability.LogNodeStart(cfg.logger, current)

		var nodeSpan trace.Span
		nodeCtx := ctx
		if cfg.tracingEnabled {
			spanCtx, span := cfg.spans.StartNodeSpan(ctx, current)
			nodeSpan = span
			if ec, ok := ctx.(*executionContext); ok {
				derived := *ec
				derived.Context = spanCtx
				nodeCtx = &derived
			}
		}

		nodeStart := time.Now()
		newState, nodeErr := cg.executeNode(nodeCtx, current, state)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(ctx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			return newState, nodeErr
		}
		state = newState
		observability.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Milliseconds()))

		state.Steps++
		state.Progress = ProjectProgress(state, current)

		next, err := cg.nextNode(ctx, state, current)
		if err != nil {
			return state, err
		}

		if cfg.checkpointStore != nil {
			if err := cg.saveCheckpoint(ctx, cfg, current, state, next); err != nil {
				return state, err
			}
		}

		if cfg.stepHook != nil {
			cfg.stepHook(state)
		}

		current = next
	}

	return state, nil
}

// saveCheckpoint persists the state after a transition. Failures are
// logged and swallowed unless configured fatal: the run keeps going in
// memory, losing resumability for this step only.
func (cg *CompiledGraph) saveCheckpoint(ctx Context, cfg *runConfig, nodeID string, state GenerationState, nextNode string) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: nodeID, Op: "serialize", Err: err}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, "serialize", err)
		return nil
	}

	cp := checkpoint.New(cfg.runID, nodeID, state.Steps, stateBytes, nextNode)
	data, err := cp.Marshal()
	if err != nil {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: nodeID, Op: "marshal", Err: err}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, "marshal", err)
		return nil
	}

	if err := cfg.checkpointStore.Save(cfg.runID, state.Steps, data); err != nil {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, "save", err)
		return nil
	}

	observability.LogCheckpoint(cfg.logger, nodeID, state.Steps, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

// executeNode executes a single node with panic recovery.
func (cg *CompiledGraph) executeNode(ctx Context, nodeID string, state GenerationState) (result GenerationState, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		// Unreachable after successful compilation.
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		// Fatal errors keep their type so the engine can classify the
		// terminal outcome; everything else gets node context.
		var stateErr *StateValidationError
		if errors.As(err, &stateErr) {
			return result, err
		}
		return result, &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return result, nil
}

// nextNode determines the next node to execute. A conditional edge
// takes precedence over simple edges.
func (cg *CompiledGraph) nextNode(ctx Context, state GenerationState, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)
		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}
		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}
		return next, nil
	}

	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// Unreachable after successful compilation.
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return edges[0], nil
}
