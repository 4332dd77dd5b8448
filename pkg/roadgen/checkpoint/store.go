// Package checkpoint provides persistent checkpoint storage for crash
// recovery of generation runs.
//
// Checkpoints are keyed by (runID, step). A crashed run resumes from
// the checkpoint with the highest step; earlier checkpoints stay
// available for inspection until the run is deleted.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists checkpoints for crash recovery.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a checkpoint for a run at a specific step.
	// Overwrites if a checkpoint for (runID, step) already exists.
	Save(runID string, step int, data []byte) error

	// Load retrieves the latest checkpoint for a run (highest step).
	// Returns ErrNotFound if the run has no checkpoints.
	Load(runID string) ([]byte, error)

	// LoadStep retrieves the checkpoint at a specific step.
	// Returns ErrNotFound if it doesn't exist.
	LoadStep(runID string, step int) ([]byte, error)

	// List returns checkpoint metadata for a run, ordered by step.
	// Returns an empty slice (not an error) if the run has none.
	List(runID string) ([]Info, error)

	// Delete removes the checkpoint at a specific step.
	// Returns nil if it doesn't exist.
	Delete(runID string, step int) error

	// DeleteRun removes all checkpoints for a run.
	// Returns nil if the run has no checkpoints.
	DeleteRun(runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	RunID     string
	Step      int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
