package roadgen

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pathforge/roadgen/pkg/roadgen/checkpoint"
)

// Resume continues a run from its latest checkpoint. It loads the
// checkpoint with the highest step, reconstructs the state, and starts
// execution at the recorded next node. Units already marked Complete
// are skipped by the unit-selection logic, so a resumed run converges
// on the same completion set as an uninterrupted one.
//
// Checkpointing continues against the same store and run ID; pass
// further options (step budget, logger, metrics) as with Run.
func (cg *CompiledGraph) Resume(ctx Context, store checkpoint.Store, runID string, opts ...RunOption) (GenerationState, error) {
	var zero GenerationState
	if ctx == nil {
		return zero, ErrNilContext
	}

	data, err := store.Load(runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
		}
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	return cg.resumeFromData(ctx, store, runID, data, opts)
}

// ResumeStep continues a run from the checkpoint at a specific step
// rather than the latest one.
func (cg *CompiledGraph) ResumeStep(ctx Context, store checkpoint.Store, runID string, step int, opts ...RunOption) (GenerationState, error) {
	var zero GenerationState
	if ctx == nil {
		return zero, ErrNilContext
	}

	data, err := store.LoadStep(runID, step)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s at step %d", ErrNoCheckpoints, runID, step)
		}
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	return cg.resumeFromData(ctx, store, runID, data, opts)
}

func (cg *CompiledGraph) resumeFromData(ctx Context, store checkpoint.Store, runID string, data []byte, opts []RunOption) (GenerationState, error) {
	var zero GenerationState

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	if cp.Version != checkpoint.Version {
		return zero, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state GenerationState
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	startNode := cp.NextNode
	if startNode != END && !cg.HasNode(startNode) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, startNode)
	}

	cfg := defaultRunConfig()
	cfg.checkpointStore = store
	cfg.runID = runID
	for _, opt := range opts {
		opt(&cfg)
	}

	return cg.runFrom(ctx, state, startNode, &cfg)
}
