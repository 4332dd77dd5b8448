package roadgen

import (
	"context"
	"errors"
	"testing"

	"github.com/pathforge/roadgen/pkg/roadgen/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustCompile builds a small linear graph a -> b -> END.
func mustCompile(t *testing.T, tracker *[]string) *CompiledGraph {
	t.Helper()
	compiled, err := NewGraph().
		AddNode("a", makeTrackingNode("a", tracker)).
		AddNode("b", makeTrackingNode("b", tracker)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)
	return compiled
}

// TestRun_LinearExecution verifies node order and the step counter.
func TestRun_LinearExecution(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)

	result, err := compiled.Run(NewContext(context.Background()), GenerationState{})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tracker)
	assert.Equal(t, 2, result.Steps)
}

// TestRun_NilContext rejects a nil context.
func TestRun_NilContext(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)

	_, err := compiled.Run(nil, GenerationState{})
	assert.ErrorIs(t, err, ErrNilContext)
}

// TestRun_RefreshesProgress verifies the executor projects progress
// at every node boundary.
func TestRun_RefreshesProgress(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)

	result, err := compiled.Run(NewContext(context.Background()), GenerationState{})

	require.NoError(t, err)
	assert.Equal(t, "b", result.Progress.Phase)
	assert.False(t, result.Progress.LastUpdatedAt.IsZero())
}

// TestRun_BudgetExceeded verifies a cycling router is stopped by the
// step budget.
func TestRun_BudgetExceeded(t *testing.T) {
	compiled, err := NewGraph().
		AddNode("loop", appendWarning).
		AddConditionalEdge("loop", func(ctx Context, s GenerationState) string { return "loop" }).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(NewContext(context.Background()), GenerationState{}, WithStepBudget(7))

	assert.ErrorIs(t, err, ErrBudgetExceeded)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 7, budgetErr.Budget)
	assert.Equal(t, "loop", budgetErr.LastNodeID)
	// Transitions executed never exceed the budget.
	assert.Equal(t, 7, result.Steps)
}

// TestRun_BudgetCountsAcrossResume verifies the persisted step counter
// keeps the budget binding over the whole run, not per process.
func TestRun_BudgetCountsAcrossResume(t *testing.T) {
	compiled, err := NewGraph().
		AddNode("loop", appendWarning).
		AddConditionalEdge("loop", func(ctx Context, s GenerationState) string { return "loop" }).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	state := GenerationState{Steps: 5}
	result, err := compiled.Run(NewContext(context.Background()), state, WithStepBudget(8))

	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 8, result.Steps)
}

// TestRun_RouterEmptyResult surfaces an invalid router result.
func TestRun_RouterEmptyResult(t *testing.T) {
	compiled, err := NewGraph().
		AddNode("a", passthrough).
		AddConditionalEdge("a", func(ctx Context, s GenerationState) string { return "" }).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background()), GenerationState{})
	assert.ErrorIs(t, err, ErrInvalidRouterResult)
}

// TestRun_RouterUnknownTarget surfaces an unknown router target.
func TestRun_RouterUnknownTarget(t *testing.T) {
	compiled, err := NewGraph().
		AddNode("a", passthrough).
		AddConditionalEdge("a", func(ctx Context, s GenerationState) string { return "ghost" }).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background()), GenerationState{})
	assert.ErrorIs(t, err, ErrRouterTargetNotFound)
}

// TestRun_NodeErrorWrapped verifies node failures carry node context.
func TestRun_NodeErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	compiled, err := NewGraph().
		AddNode("a", makeFailingNode(boom)).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background()), GenerationState{})

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "a", nodeErr.NodeID)
	assert.ErrorIs(t, err, boom)
}

// TestRun_StateValidationErrorKeepsType verifies the fatal validation
// error is not wrapped, so callers can inspect the field.
func TestRun_StateValidationErrorKeepsType(t *testing.T) {
	compiled, err := NewGraph().
		AddNode("a", makeFailingNode(requireField("a", "units", "missing"))).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background()), GenerationState{})

	var stateErr *StateValidationError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "units", stateErr.Field)
}

// TestRun_PanicRecovered verifies a panicking node becomes a
// PanicError instead of crashing the process.
func TestRun_PanicRecovered(t *testing.T) {
	compiled, err := NewGraph().
		AddNode("a", func(ctx Context, s GenerationState) (GenerationState, error) {
			panic("kaboom")
		}).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background()), GenerationState{})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "a", panicErr.NodeID)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

// TestRun_CancellationBetweenSteps verifies cancellation stops the run
// before the next node and preserves state.
func TestRun_CancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	compiled, err := NewGraph().
		AddNode("a", func(c Context, s GenerationState) (GenerationState, error) {
			s.Warnings = append(s.Warnings, "ran-a")
			cancel() // cancel while "a" holds the run
			return s, nil
		}).
		AddNode("b", passthrough).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(NewContext(ctx), GenerationState{})

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "b", cancelErr.NodeID)
	assert.Equal(t, []string{"ran-a"}, cancelErr.State.Warnings)
	assert.Equal(t, 1, result.Steps)
}

// TestRun_CheckpointsEveryTransition verifies one checkpoint per
// executed node, keyed by step, recording the next node.
func TestRun_CheckpointsEveryTransition(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)
	cpStore := checkpoint.NewMemoryStore()

	_, err := compiled.Run(NewContext(context.Background()), GenerationState{},
		WithCheckpointStore(cpStore), WithRunID("run-1"))
	require.NoError(t, err)

	infos, err := cpStore.List("run-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	data, err := cpStore.Load("run-1")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "b", cp.NodeID)
	assert.Equal(t, 2, cp.Step)
	assert.Equal(t, END, cp.NextNode)
}

// TestRun_CheckpointRequiresRunID verifies checkpointing without a
// run ID is rejected up front.
func TestRun_CheckpointRequiresRunID(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)

	_, err := compiled.Run(NewContext(context.Background()), GenerationState{},
		WithCheckpointStore(checkpoint.NewMemoryStore()))
	assert.ErrorIs(t, err, ErrRunIDRequired)
}

// failingStore rejects every save.
type failingStore struct {
	*checkpoint.MemoryStore
}

func (f *failingStore) Save(runID string, step int, data []byte) error {
	return errors.New("disk full")
}

// TestRun_CheckpointSaveFailureNonFatal verifies the run continues
// when a snapshot cannot be saved.
func TestRun_CheckpointSaveFailureNonFatal(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)
	bad := &failingStore{checkpoint.NewMemoryStore()}

	_, err := compiled.Run(NewContext(context.Background()), GenerationState{},
		WithCheckpointStore(bad), WithRunID("run-1"))

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tracker)
}

// TestRun_CheckpointSaveFailureFatalWhenConfigured verifies the
// opt-in strict mode aborts instead.
func TestRun_CheckpointSaveFailureFatalWhenConfigured(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)
	bad := &failingStore{checkpoint.NewMemoryStore()}

	_, err := compiled.Run(NewContext(context.Background()), GenerationState{},
		WithCheckpointStore(bad), WithRunID("run-1"), WithCheckpointFailureFatal())

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "save", cpErr.Op)
}

// TestRun_StepHookObservesEveryTransition verifies the hook sees each
// post-transition state.
func TestRun_StepHookObservesEveryTransition(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)

	var seen []int
	_, err := compiled.Run(NewContext(context.Background()), GenerationState{},
		WithStepHook(func(s GenerationState) { seen = append(seen, s.Steps) }))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

// TestResume_ContinuesFromLatestCheckpoint verifies resumption picks
// up at the recorded next node without re-running earlier nodes.
func TestResume_ContinuesFromLatestCheckpoint(t *testing.T) {
	var first []string
	compiled := mustCompile(t, &first)
	cpStore := checkpoint.NewMemoryStore()

	// Run only node "a" by resuming later from its checkpoint: first
	// run the full graph to produce checkpoints.
	_, err := compiled.Run(NewContext(context.Background()), GenerationState{},
		WithCheckpointStore(cpStore), WithRunID("run-1"))
	require.NoError(t, err)

	// Resume from step 1 (after "a"): only "b" should execute.
	var second []string
	replay := mustCompile(t, &second)
	result, err := replay.ResumeStep(NewContext(context.Background()), cpStore, "run-1", 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, second)
	assert.Equal(t, 2, result.Steps)
}

// TestResume_NoCheckpoints fails cleanly for unknown runs.
func TestResume_NoCheckpoints(t *testing.T) {
	var tracker []string
	compiled := mustCompile(t, &tracker)

	_, err := compiled.Resume(NewContext(context.Background()), checkpoint.NewMemoryStore(), "ghost")
	assert.ErrorIs(t, err, ErrNoCheckpoints)
}
