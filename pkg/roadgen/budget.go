package roadgen

import (
	"github.com/pathforge/roadgen/pkg/roadgen/config"
)

// BudgetParams parameterize the step-budget formula. The budget caps
// how many transitions a run may take before it is aborted, bounding
// routing cycles; it is independent of per-unit retry caps.
type BudgetParams struct {
	// UnitsPerScopeUnit is how many units planning creates per day.
	UnitsPerScopeUnit int

	// StepsPerUnit is the expected transitions to process one unit
	// (select, generate, mark).
	StepsPerUnit int

	// OverheadStepsPerScopeUnit covers recovery re-entries and the
	// fixed pipeline head and tail, amortized per day.
	OverheadStepsPerScopeUnit int

	// SafetyMultiplier widens the raw estimate.
	SafetyMultiplier float64

	// MinBudget and MaxBudget clamp the result.
	MinBudget int
	MaxBudget int
}

// DefaultBudgetParams returns the standard pipeline budget.
func DefaultBudgetParams() BudgetParams {
	return BudgetParams{
		UnitsPerScopeUnit:         2,
		StepsPerUnit:              3,
		OverheadStepsPerScopeUnit: 2,
		SafetyMultiplier:          1.5,
		MinBudget:                 50,
		MaxBudget:                 500,
	}
}

// BudgetParamsFromConfig builds BudgetParams from a runtime
// configuration section.
//
// Recognized keys: units_per_scope_unit, steps_per_unit,
// overhead_steps_per_scope_unit, safety_multiplier, min_budget,
// max_budget.
func BudgetParamsFromConfig(cfg config.Config) BudgetParams {
	d := DefaultBudgetParams()
	return BudgetParams{
		UnitsPerScopeUnit:         cfg.Int("units_per_scope_unit", d.UnitsPerScopeUnit),
		StepsPerUnit:              cfg.Int("steps_per_unit", d.StepsPerUnit),
		OverheadStepsPerScopeUnit: cfg.Int("overhead_steps_per_scope_unit", d.OverheadStepsPerScopeUnit),
		SafetyMultiplier:          cfg.Float("safety_multiplier", d.SafetyMultiplier),
		MinBudget:                 cfg.Int("min_budget", d.MinBudget),
		MaxBudget:                 cfg.Int("max_budget", d.MaxBudget),
	}
}

func (p BudgetParams) withDefaults() BudgetParams {
	d := DefaultBudgetParams()
	if p.UnitsPerScopeUnit <= 0 {
		p.UnitsPerScopeUnit = d.UnitsPerScopeUnit
	}
	if p.StepsPerUnit <= 0 {
		p.StepsPerUnit = d.StepsPerUnit
	}
	if p.OverheadStepsPerScopeUnit < 0 {
		p.OverheadStepsPerScopeUnit = d.OverheadStepsPerScopeUnit
	}
	if p.SafetyMultiplier <= 0 {
		p.SafetyMultiplier = d.SafetyMultiplier
	}
	if p.MinBudget <= 0 {
		p.MinBudget = d.MinBudget
	}
	if p.MaxBudget < p.MinBudget {
		p.MaxBudget = max(d.MaxBudget, p.MinBudget)
	}
	return p
}

// ComputeStepBudget derives the transition ceiling for a run of the
// given scope:
//
//	(unitsPerScopeUnit*stepsPerUnit + overheadStepsPerScopeUnit)
//	    * targetScopeSize * safetyMultiplier
//
// clamped to [MinBudget, MaxBudget].
func ComputeStepBudget(targetScopeSize int, p BudgetParams) int {
	p = p.withDefaults()
	if targetScopeSize < 1 {
		targetScopeSize = 1
	}

	perScope := p.UnitsPerScopeUnit*p.StepsPerUnit + p.OverheadStepsPerScopeUnit
	raw := int(float64(perScope*targetScopeSize) * p.SafetyMultiplier)

	if raw < p.MinBudget {
		return p.MinBudget
	}
	if raw > p.MaxBudget {
		return p.MaxBudget
	}
	return raw
}
