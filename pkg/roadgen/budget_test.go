package roadgen

import (
	"testing"

	"github.com/pathforge/roadgen/pkg/roadgen/config"
	"github.com/stretchr/testify/assert"
)

// TestComputeStepBudget_ClampsToMin verifies a small scope clamps up:
// (2*2+2)*3*1.5 = 27, below the floor of 50.
func TestComputeStepBudget_ClampsToMin(t *testing.T) {
	p := BudgetParams{
		UnitsPerScopeUnit:         2,
		StepsPerUnit:              2,
		OverheadStepsPerScopeUnit: 2,
		SafetyMultiplier:          1.5,
		MinBudget:                 50,
		MaxBudget:                 500,
	}

	assert.Equal(t, 50, ComputeStepBudget(3, p))
}

// TestComputeStepBudget_ClampsToMax verifies a huge scope clamps down.
func TestComputeStepBudget_ClampsToMax(t *testing.T) {
	p := DefaultBudgetParams()
	assert.Equal(t, p.MaxBudget, ComputeStepBudget(1000, p))
}

// TestComputeStepBudget_WithinRange verifies the raw formula when it
// falls inside the clamp: (2*3+2)*10*1.5 = 120.
func TestComputeStepBudget_WithinRange(t *testing.T) {
	assert.Equal(t, 120, ComputeStepBudget(10, DefaultBudgetParams()))
}

// TestComputeStepBudget_MinAboveDefaultMax verifies that a floor set
// above the default ceiling raises the ceiling with it instead of
// leaving an inverted range.
func TestComputeStepBudget_MinAboveDefaultMax(t *testing.T) {
	p := BudgetParams{MinBudget: 700}

	// A tiny scope still gets the floor.
	assert.Equal(t, 700, ComputeStepBudget(1, p))
	// A huge scope clamps to the raised ceiling, not the default 500.
	assert.Equal(t, 700, ComputeStepBudget(1000, p))
}

// TestComputeStepBudget_DefaultsForZeroParams verifies zero-value
// params fall back to defaults instead of dividing the run to zero.
func TestComputeStepBudget_DefaultsForZeroParams(t *testing.T) {
	got := ComputeStepBudget(10, BudgetParams{})
	assert.Equal(t, ComputeStepBudget(10, DefaultBudgetParams()), got)
}

// TestComputeStepBudget_ScopeFloor verifies a non-positive scope is
// treated as one.
func TestComputeStepBudget_ScopeFloor(t *testing.T) {
	assert.Equal(t, ComputeStepBudget(1, DefaultBudgetParams()), ComputeStepBudget(0, DefaultBudgetParams()))
}

// TestBudgetParamsFromConfig verifies config keys override defaults
// and missing keys fall back.
func TestBudgetParamsFromConfig(t *testing.T) {
	cfg := config.New(map[string]any{
		"units_per_scope_unit": 4,
		"safety_multiplier":    2.0,
		"max_budget":           800,
	})

	p := BudgetParamsFromConfig(cfg)

	assert.Equal(t, 4, p.UnitsPerScopeUnit)
	assert.Equal(t, 2.0, p.SafetyMultiplier)
	assert.Equal(t, 800, p.MaxBudget)
	assert.Equal(t, DefaultBudgetParams().StepsPerUnit, p.StepsPerUnit)
	assert.Equal(t, DefaultBudgetParams().MinBudget, p.MinBudget)
}
