package roadgen

import "time"

// Phase weights before planning produces units. Once units exist,
// percentage tracks terminal units across the remaining span.
const (
	progressAfterFetch   = 5.0
	progressAfterAnalyze = 15.0
	progressAfterPlan    = 25.0
	progressComplete     = 100.0
)

// ProjectProgress derives the observable progress of a run from its
// state. Pure: no I/O, no retries, no mutation of state. The executor
// calls it at every node boundary to refresh state.Progress.
func ProjectProgress(state GenerationState, phase string) Progress {
	completed, failed := state.UnitCounts()

	p := Progress{
		Phase:          phase,
		UnitsCompleted: completed,
		UnitsTotal:     len(state.Units),
		LastUpdatedAt:  time.Now().UTC(),
	}

	switch {
	case phase == NodeFinalize || phase == END:
		p.Percentage = progressComplete
	case len(state.Units) > 0:
		terminal := float64(completed + failed)
		span := progressComplete - progressAfterPlan
		p.Percentage = progressAfterPlan + span*terminal/float64(len(state.Units))
	case phase == NodeFetchContext:
		p.Percentage = progressAfterFetch
	case phase == NodeAnalyzeSource:
		p.Percentage = progressAfterAnalyze
	case phase == NodePlanUnits:
		p.Percentage = progressAfterPlan
	}

	return p
}
