// Package store persists generated unit content durably.
//
// Once a unit's content is persisted here, the workflow drops the
// payload from its in-memory state and checkpoints; the record in this
// store is the source of truth for completed units.
package store

import (
	"context"
	"errors"
	"time"
)

// UnitRecord is the durably persisted content of one generated unit.
type UnitRecord struct {
	RunID     string    `json:"run_id"`
	UnitID    string    `json:"unit_id"`
	Ordinal   int       `json:"ordinal"`
	Title     string    `json:"title"`
	Objective string    `json:"objective"`
	Content   string    `json:"content"`
	Tasks     []string  `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
}

// DurableStore persists unit content.
// Implementations must be safe for concurrent use.
type DurableStore interface {
	// PersistUnit stores a unit's content, overwriting any previous
	// record for (runID, unitID). Persisting is idempotent.
	PersistUnit(ctx context.Context, rec UnitRecord) error

	// LoadUnit retrieves one unit's record.
	// Returns ErrNotFound if it doesn't exist.
	LoadUnit(ctx context.Context, runID, unitID string) (UnitRecord, error)

	// LoadUnits returns all persisted units for a run, ordered by
	// ordinal. Returns an empty slice if the run has none.
	LoadUnits(ctx context.Context, runID string) ([]UnitRecord, error)

	// DeleteRun removes all persisted units for a run.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a unit record doesn't exist.
	ErrNotFound = errors.New("unit record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("content store closed")
)
