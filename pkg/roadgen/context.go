package roadgen

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes. It extends
// context.Context with run metadata and an enriched logger.
//
// Context is immutable after creation; the executor derives a
// per-node context with the node ID set.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and
	// node context. Never nil; defaults to slog.Default().
	Logger() *slog.Logger

	// RunID returns the unique identifier for this run.
	// Auto-generated if not configured.
	RunID() string

	// NodeID returns the node currently executing. Empty before
	// execution starts.
	NodeID() string
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger *slog.Logger
	runID  string
	nodeID string
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithContextLogger sets the logger for the context. The executor
// enriches it with run_id and node_id per node.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier for the context. If not
// set, a UUID is generated. For checkpointing, also pass WithRunID to
// Run.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		if id != "" {
			c.runID = id
		}
	}
}

// NewContext creates an execution context from a standard context.
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// withNodeID returns a derived context with the node ID set and the
// logger enriched.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context: c.Context,
		logger:  c.logger.With("run_id", c.runID, "node_id", nodeID),
		runID:   c.runID,
		nodeID:  nodeID,
	}
}
