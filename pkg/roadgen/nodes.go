package roadgen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pathforge/roadgen/pkg/roadgen/faults"
	"github.com/pathforge/roadgen/pkg/roadgen/observability"
	"github.com/pathforge/roadgen/pkg/roadgen/ratelimit"
	"github.com/pathforge/roadgen/pkg/roadgen/store"
	"golang.org/x/sync/errgroup"
)

// fetchContext assembles the prompt preamble from the request. It is
// the entry node, so it also re-checks the request fields every node
// after it depends on.
func (p *Pipeline) fetchContext(ctx Context, state GenerationState) (GenerationState, error) {
	if state.Request.ProjectID == "" {
		return state, requireField(NodeFetchContext, "request.project_id", "missing")
	}
	if state.Request.TargetDays < 1 {
		return state, requireField(NodeFetchContext, "request.target_days", "must be at least 1")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", state.Request.ProjectID)
	fmt.Fprintf(&b, "Learner level: %s\n", state.Request.SkillLevel)
	fmt.Fprintf(&b, "Roadmap length: %d days\n", state.Request.TargetDays)
	state.ProjectContext = b.String()

	return state, nil
}

// analyzeSource runs the external analyzer over the source reference.
// Analyzer failure is fatal: without an analysis there is nothing to
// plan from.
func (p *Pipeline) analyzeSource(ctx Context, state GenerationState) (GenerationState, error) {
	if state.Request.SourceRef == "" {
		return state, requireField(NodeAnalyzeSource, "request.source_ref", "missing")
	}

	analysis, err := p.analyzer.Analyze(ctx, state.Request.SourceRef)
	if err != nil {
		return state, fmt.Errorf("analyze source %q: %w", state.Request.SourceRef, err)
	}
	state.Analysis = analysis

	return state, nil
}

// plannedUnit is the shape one plan entry must decode to.
type plannedUnit struct {
	Day       int    `json:"day"`
	Title     string `json:"title"`
	Objective string `json:"objective"`
}

// planUnits asks the model for the ordered unit plan and turns it into
// Pending units. Malformed plan entries are dropped with a recorded
// warning; planning only fails when nothing usable remains.
func (p *Pipeline) planUnits(ctx Context, state GenerationState) (GenerationState, error) {
	if state.ProjectContext == "" {
		return state, requireField(NodePlanUnits, "project_context", "missing")
	}

	var planned []plannedUnit
	_, err := p.completeCall(ctx, "plan_units", "", plannerSystemPrompt, p.planPrompt(state), &planned)
	if err != nil {
		return state, fmt.Errorf("plan units: %w", err)
	}

	units := make([]Unit, 0, len(planned))
	var prevID string
	for i, entry := range planned {
		if entry.Title == "" {
			state.Warnings = append(state.Warnings,
				fmt.Sprintf("dropped plan entry %d: missing title", i))
			continue
		}
		u := Unit{
			ID:        fmt.Sprintf("unit-%02d", len(units)+1),
			Ordinal:   len(units),
			Status:    UnitPending,
			Title:     entry.Title,
			Objective: entry.Objective,
		}
		if prevID != "" {
			u.DependsOn = []string{prevID}
		}
		prevID = u.ID
		units = append(units, u)
	}
	if len(units) == 0 {
		return state, &faults.ValidationError{
			Field:   "units",
			Message: fmt.Sprintf("planner produced no usable units (%d entries dropped)", len(planned)),
		}
	}

	state.Units = units
	state.Cursor = -1
	return state, nil
}

// selectNextUnit advances the cursor to the next Pending unit whose
// dependencies are terminal, marking it Generating. When every unit is
// terminal it runs the one-shot recovery sweep: failed units whose
// last failure was retryable get one final Pending reset before the
// run finalizes.
func (p *Pipeline) selectNextUnit(ctx Context, state GenerationState) (GenerationState, error) {
	if len(state.Units) == 0 {
		return state, requireField(NodeSelectNextUnit, "units", "no units planned")
	}
	if state.CurrentUnit() != nil {
		return state, requireField(NodeSelectNextUnit, "cursor", "a unit is already generating")
	}

	next := pickNextUnit(&state)
	if next < 0 && !state.RecoverySwept {
		state.RecoverySwept = true
		swept := 0
		for i := range state.Units {
			u := &state.Units[i]
			if u.Status == UnitFailed && u.FailureRetryable && !u.Swept {
				u.Status = UnitPending
				u.Swept = true
				swept++
			}
		}
		if swept > 0 {
			ctx.Logger().Info("recovery sweep re-queued failed units", "count", swept)
			next = pickNextUnit(&state)
		}
	}

	if next >= 0 {
		state.Cursor = next
		state.Units[next].Status = UnitGenerating
	} else {
		state.Cursor = -1
	}
	return state, nil
}

// pickNextUnit returns the index of the first startable Pending unit,
// or -1. Units start only after all their dependencies are terminal;
// a failed dependency does not block downstream units.
func pickNextUnit(state *GenerationState) int {
	byID := make(map[string]*Unit, len(state.Units))
	for i := range state.Units {
		byID[state.Units[i].ID] = &state.Units[i]
	}
	for i := range state.Units {
		u := &state.Units[i]
		if u.Status != UnitPending {
			continue
		}
		ready := true
		for _, dep := range u.DependsOn {
			if d, ok := byID[dep]; ok && !d.Status.Terminal() {
				ready = false
				break
			}
		}
		if ready {
			return i
		}
	}
	return -1
}

// unitContent is the shape the content sub-call must decode to.
type unitContent struct {
	Content string `json:"content"`
}

// generateUnit produces the unit's content and tasks via the remote
// model, under the configured sub-call policy. Failures that are the
// run's problem (cancellation, admission timeout) propagate as node
// errors; failures that are the unit's problem are recorded in state
// for the recovery coordinator.
func (p *Pipeline) generateUnit(ctx Context, state GenerationState) (GenerationState, error) {
	u := state.CurrentUnit()
	if u == nil {
		return state, requireField(NodeGenerateUnit, "cursor", "no unit selected")
	}
	if u.Status != UnitGenerating {
		return state, requireField(NodeGenerateUnit, "unit.status",
			fmt.Sprintf("unit %s is %s, expected %s", u.ID, u.Status, UnitGenerating))
	}
	state.PendingFailure = nil

	var (
		content unitContent
		tasks   []string
	)
	retries, err := p.dispatchSubcalls(ctx, state, *u, &content, &tasks)
	u.Retries += retries

	if err != nil {
		if ctx.Err() != nil {
			// Run-level cancellation, not a unit problem.
			return state, errors.Join(err, ctx.Err())
		}
		if errors.Is(err, ratelimit.ErrAcquireTimeout) {
			return state, err
		}
		state.PendingFailure = &FailureInfo{
			UnitID:    u.ID,
			Message:   err.Error(),
			Retryable: faults.IsRetryable(err),
		}
		return state, nil
	}

	u.Content = content.Content
	u.Tasks = tasks
	return state, nil
}

// dispatchSubcalls runs the content and tasks sub-calls under the
// configured policy and returns the total remote-call retries
// observed. Both paths acquire the same rate limiter through the
// retry executor.
func (p *Pipeline) dispatchSubcalls(ctx Context, state GenerationState, u Unit, content *unitContent, tasks *[]string) (int, error) {
	if p.policy == SubcallParallel {
		var contentAttempts, tasksAttempts int
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			contentAttempts, err = p.completeCall(withContext(ctx, gctx), "generate_content", u.ID,
				generatorSystemPrompt, p.contentPrompt(state, u), content)
			return err
		})
		g.Go(func() error {
			var err error
			tasksAttempts, err = p.completeCall(withContext(ctx, gctx), "generate_tasks", u.ID,
				generatorSystemPrompt, p.tasksPrompt(state, u), tasks)
			return err
		})
		err := g.Wait()
		retries := contentAttempts + tasksAttempts
		if retries > 0 {
			retries -= 2 // attempts include the first try of each sub-call
			if retries < 0 {
				retries = 0
			}
		}
		return retries, p.checkContent(err, content)
	}

	contentAttempts, err := p.completeCall(ctx, "generate_content", u.ID,
		generatorSystemPrompt, p.contentPrompt(state, u), content)
	retries := max(contentAttempts-1, 0)
	if err != nil {
		return retries, err
	}
	if err := p.checkContent(nil, content); err != nil {
		return retries, err
	}

	tasksAttempts, err := p.completeCall(ctx, "generate_tasks", u.ID,
		generatorSystemPrompt, p.tasksPrompt(state, u), tasks)
	retries += max(tasksAttempts-1, 0)
	return retries, err
}

// checkContent validates the decoded content payload. An empty body
// is a permanent unit failure, not something retrying will fix.
func (p *Pipeline) checkContent(err error, content *unitContent) error {
	if err != nil {
		return err
	}
	if strings.TrimSpace(content.Content) == "" {
		return &faults.ValidationError{Field: "content", Message: "model returned empty content"}
	}
	return nil
}

// withContext rebinds the execution context onto a derived
// context.Context (e.g. an errgroup's cancellable context).
func withContext(ctx Context, inner context.Context) Context {
	if ec, ok := ctx.(*executionContext); ok {
		derived := *ec
		derived.Context = inner
		return &derived
	}
	return ctx
}

// markUnitComplete persists the unit's content downstream, evicts the
// payload from live state, and records the completion in the memory
// ledger. Persist failure is non-fatal: the unit completes with its
// payload retained in state and a recorded warning.
func (p *Pipeline) markUnitComplete(ctx Context, state GenerationState) (GenerationState, error) {
	u := state.CurrentUnit()
	if u == nil {
		return state, requireField(NodeMarkUnitComplete, "cursor", "no unit selected")
	}
	if u.Status != UnitGenerating {
		return state, requireField(NodeMarkUnitComplete, "unit.status",
			fmt.Sprintf("unit %s is %s, expected %s", u.ID, u.Status, UnitGenerating))
	}
	if strings.TrimSpace(u.Content) == "" {
		return state, requireField(NodeMarkUnitComplete, "unit.content", "missing generated content")
	}

	if p.content != nil {
		rec := store.UnitRecord{
			RunID:     state.RunID,
			UnitID:    u.ID,
			Ordinal:   u.Ordinal,
			Title:     u.Title,
			Objective: u.Objective,
			Content:   u.Content,
			Tasks:     u.Tasks,
		}
		if err := p.content.PersistUnit(ctx, rec); err != nil {
			state.Warnings = append(state.Warnings,
				fmt.Sprintf("persist unit %s: %v (payload retained in state)", u.ID, err))
			ctx.Logger().Warn("unit persist failed, payload retained",
				"unit_id", u.ID, "error", err.Error())
		} else {
			u.Persisted = true
			u.Content = ""
			u.Tasks = nil
		}
	}

	u.Status = UnitComplete
	state.Summaries = append(state.Summaries, UnitSummary{
		UnitID:    u.ID,
		Title:     u.Title,
		Objective: u.Objective,
	})
	state.Cursor = -1

	p.metrics.RecordUnitOutcome(ctx, string(UnitComplete), u.Retries)
	return state, nil
}

// recoverUnit is the per-unit failure handler. A retryable failure
// under the recovery cap schedules an escalating-backoff re-entry into
// generation; anything else marks the unit Failed and lets the run
// continue with the remaining units.
func (p *Pipeline) recoverUnit(ctx Context, state GenerationState) (GenerationState, error) {
	f := state.PendingFailure
	if f == nil {
		return state, requireField(NodeRecoverUnit, "pending_failure", "missing")
	}
	u := state.CurrentUnit()
	if u == nil || u.ID != f.UnitID {
		return state, requireField(NodeRecoverUnit, "cursor",
			fmt.Sprintf("failure recorded for unit %s but it is not at the cursor", f.UnitID))
	}
	state.PendingFailure = nil

	if !f.Retryable || u.Recoveries >= p.maxUnitRetries {
		u.Status = UnitFailed
		u.FailureReason = f.Message
		u.FailureRetryable = f.Retryable
		state.Cursor = -1

		observability.LogUnitFailed(p.logger, u.ID, u.Recoveries+1, errors.New(f.Message))
		p.metrics.RecordUnitOutcome(ctx, string(UnitFailed), u.Retries)
		return state, nil
	}

	u.Recoveries++
	backoff := p.recoveryBase << (u.Recoveries - 1)
	observability.LogUnitRetry(p.logger, u.ID, u.Recoveries, backoff, errors.New(f.Message))

	if err := p.sleep(ctx, backoff); err != nil {
		return state, err
	}
	// Unit stays Generating; the router re-enters generate_unit.
	return state, nil
}

// finalize settles the run: every unit must be terminal, and the
// failure roster is rebuilt from unit statuses so swept-and-recovered
// units do not linger in it.
func (p *Pipeline) finalize(ctx Context, state GenerationState) (GenerationState, error) {
	for i := range state.Units {
		if !state.Units[i].Status.Terminal() {
			return state, requireField(NodeFinalize, "units",
				fmt.Sprintf("unit %s is %s at finalize", state.Units[i].ID, state.Units[i].Status))
		}
	}

	state.Failures = nil
	for i := range state.Units {
		u := &state.Units[i]
		if u.Status == UnitFailed {
			state.Failures = append(state.Failures, UnitFailure{
				UnitID: u.ID,
				Reason: u.FailureReason,
			})
		}
	}
	state.Cursor = -1
	state.PendingFailure = nil

	return state, nil
}
