// Package roadgen provides a rate-governed, checkpointed workflow
// engine that generates structured learning roadmaps from a remote
// generative model.
package roadgen

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPathToEnd indicates no path exists from the entry point to END.
	ErrNoPathToEnd = errors.New("no path to END from entry")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Run() was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrInvalidRouterResult indicates a router function returned an empty string.
	ErrInvalidRouterResult = errors.New("router returned empty string")

	// ErrRouterTargetNotFound indicates a router function returned an unknown node ID.
	ErrRouterTargetNotFound = errors.New("router returned unknown node")

	// ErrBudgetExceeded indicates the run used more transitions than its step budget.
	ErrBudgetExceeded = errors.New("step budget exceeded")
)

// Sentinel errors for checkpointing and resume.
var (
	// ErrRunIDRequired indicates checkpointing was enabled without a run ID.
	ErrRunIDRequired = errors.New("run ID required for checkpointing")

	// ErrDeserializeState indicates state deserialization failed.
	ErrDeserializeState = errors.New("failed to deserialize state")

	// ErrNoCheckpoints indicates no checkpoints exist for the run.
	ErrNoCheckpoints = errors.New("no checkpoints found for run")

	// ErrInvalidResumeNode indicates the resume node doesn't exist in the graph.
	ErrInvalidResumeNode = errors.New("invalid resume node")

	// ErrCheckpointVersionMismatch indicates the checkpoint version is incompatible.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// Sentinel errors for the engine surface.
var (
	// ErrRunNotFound indicates no run exists with the given ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunActive indicates the run has not reached a terminal state yet.
	ErrRunActive = errors.New("run still active")

	// ErrInvalidRequest indicates a GenerationRequest failed validation.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// StateValidationError reports a node that found a required state
// field missing or malformed. It names the field so the failure is
// diagnosable without a debugger. Fatal for the run.
type StateValidationError struct {
	// NodeID is the node that performed the validation.
	NodeID string
	// Field is the state field that was missing or invalid.
	Field string
	// Reason describes what was wrong.
	Reason string
}

// Error implements the error interface.
func (e *StateValidationError) Error() string {
	return fmt.Sprintf("node %s: state field %q: %s", e.NodeID, e.Field, e.Reason)
}

// BudgetExceededError reports a run that used more state-machine
// transitions than its computed step budget allows. Fatal for the run.
type BudgetExceededError struct {
	// Budget is the computed transition limit.
	Budget int
	// LastNodeID is the node that would have executed next.
	LastNodeID string
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("exceeded step budget (%d) at node %s", e.Budget, e.LastNodeID)
}

// Unwrap returns ErrBudgetExceeded for errors.Is support.
func (e *BudgetExceededError) Unwrap() error {
	return ErrBudgetExceeded
}

// NodeError wraps an error with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed (e.g., "execute").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError captures the state when execution was cancelled
// between steps. The state at cancellation is preserved for recovery.
type CancellationError struct {
	// NodeID is the node that was about to execute.
	NodeID string
	// State is the state at cancellation.
	State GenerationState
	// Cause is the underlying cancellation cause.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError wraps errors from conditional edge routing.
type RouterError struct {
	// FromNode is the node with the conditional edge.
	FromNode string
	// Returned is the value the router returned.
	Returned string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// CheckpointError wraps errors from checkpoint operations.
// Save failures are normally non-fatal; this type surfaces only when
// checkpoint failures are configured as fatal, or on resume.
type CheckpointError struct {
	// NodeID is the node where checkpointing failed.
	NodeID string
	// Op is the operation that failed ("save", "load", "serialize").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}
