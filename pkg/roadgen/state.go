package roadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SkillLevel is the learner proficiency a roadmap targets.
type SkillLevel string

// Supported skill levels.
const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
)

// GenerationRequest is the immutable input that starts a run.
// It is validated once at Submit; an invalid request never creates state.
type GenerationRequest struct {
	// ProjectID identifies the project the roadmap belongs to.
	ProjectID string `json:"project_id" validate:"required"`

	// SourceRef points at the source material to analyze (e.g. a
	// repository URL or path). Opaque to the engine.
	SourceRef string `json:"source_ref" validate:"required"`

	// SkillLevel tunes the depth of the generated content.
	SkillLevel SkillLevel `json:"skill_level" validate:"required,oneof=beginner intermediate advanced"`

	// TargetDays is the roadmap length in days.
	TargetDays int `json:"target_days" validate:"required,min=1,max=100"`
}

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request against its declared constraints.
// The returned error names the first offending field.
func (r GenerationRequest) Validate() error {
	err := requestValidator.Struct(r)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %q", ErrInvalidRequest, fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// UnitStatus is the lifecycle state of one unit.
// Transitions: Pending -> Generating -> {Complete | Failed}.
type UnitStatus string

// Unit lifecycle states.
const (
	UnitPending    UnitStatus = "pending"
	UnitGenerating UnitStatus = "generating"
	UnitComplete   UnitStatus = "complete"
	UnitFailed     UnitStatus = "failed"
)

// Terminal reports whether the status is final for the unit.
func (s UnitStatus) Terminal() bool {
	return s == UnitComplete || s == UnitFailed
}

// Unit is one atomic work item of a run: a single roadmap day or
// concept. Units are created during planning and mutated only by the
// node currently processing them. Content is evicted once durably
// persisted; status and summary metadata survive.
type Unit struct {
	ID      string `json:"id"`
	Ordinal int    `json:"ordinal"`

	// DependsOn lists unit IDs that must be terminal before this unit
	// may start. Planning wires units strictly sequentially.
	DependsOn []string `json:"depends_on,omitempty"`

	Status    UnitStatus `json:"status"`
	Title     string     `json:"title"`
	Objective string     `json:"objective"`

	// Content and Tasks hold the generated payload until it is durably
	// persisted, after which both are cleared from live state.
	Content string   `json:"content,omitempty"`
	Tasks   []string `json:"tasks,omitempty"`

	// Retries counts remote-call retries observed while generating
	// this unit (across recovery re-entries).
	Retries int `json:"retries"`

	// Recoveries counts how many times the recovery coordinator has
	// re-entered generation for this unit. Capped by MaxUnitRetries.
	Recoveries int `json:"recoveries"`

	// Swept marks that the finalization recovery sweep already gave
	// this unit its one extra attempt.
	Swept bool `json:"swept,omitempty"`

	FailureReason    string `json:"failure_reason,omitempty"`
	FailureRetryable bool   `json:"failure_retryable,omitempty"`

	// Persisted marks the content as durably stored downstream.
	Persisted bool `json:"persisted,omitempty"`
}

// UnitSummary is the compact record of a completed unit kept in live
// state after its payload is evicted. Summaries feed the generation
// context of later units.
type UnitSummary struct {
	UnitID    string `json:"unit_id"`
	Title     string `json:"title"`
	Objective string `json:"objective"`
}

// UnitFailure pairs a permanently failed unit with its reason.
type UnitFailure struct {
	UnitID string `json:"unit_id"`
	Reason string `json:"reason"`
}

// FailureInfo records the most recent generation failure for the unit
// at the cursor. The recovery node consumes and clears it.
// Retryability is classified when the failure is recorded so the
// decision survives checkpoint serialization.
type FailureInfo struct {
	UnitID    string `json:"unit_id"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SourceAnalysis is the analyzer's structured summary of the source
// material. The engine treats it as opaque input to planning.
type SourceAnalysis struct {
	Summary    string   `json:"summary"`
	Languages  []string `json:"languages,omitempty"`
	Frameworks []string `json:"frameworks,omitempty"`
	Topics     []string `json:"topics,omitempty"`
}

// SourceAnalyzer produces a SourceAnalysis for a source reference.
// The analyzer is an external collaborator; the retrieval stack behind
// it is out of scope here.
type SourceAnalyzer interface {
	Analyze(ctx context.Context, sourceRef string) (SourceAnalysis, error)
}

// AnalyzerFunc adapts a function to the SourceAnalyzer interface.
type AnalyzerFunc func(ctx context.Context, sourceRef string) (SourceAnalysis, error)

// Analyze implements SourceAnalyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, sourceRef string) (SourceAnalysis, error) {
	return f(ctx, sourceRef)
}

// Progress is the observable projection of a run's state.
type Progress struct {
	Phase          string    `json:"phase"`
	UnitsCompleted int       `json:"units_completed"`
	UnitsTotal     int       `json:"units_total"`
	Percentage     float64   `json:"percentage"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

// GenerationState is the mutable state of one run. It is exclusively
// owned by that run for its lifetime: only the currently active node
// mutates it, so no intra-run synchronization is needed. The whole
// struct round-trips through JSON for checkpointing.
type GenerationState struct {
	RunID   string            `json:"run_id"`
	Request GenerationRequest `json:"request"`

	// ProjectContext is the prompt preamble assembled by fetch_context.
	ProjectContext string `json:"project_context,omitempty"`

	Analysis SourceAnalysis `json:"analysis"`

	// Units is the ordered plan. Cursor indexes the unit currently
	// generating, -1 when none is in flight.
	Units  []Unit `json:"units"`
	Cursor int    `json:"cursor"`

	// PendingFailure is set by generate_unit when a unit fails and is
	// consumed by recover_unit.
	PendingFailure *FailureInfo `json:"pending_failure,omitempty"`

	// Summaries is the memory ledger of completed units.
	Summaries []UnitSummary `json:"summaries,omitempty"`

	Warnings []string      `json:"warnings,omitempty"`
	Failures []UnitFailure `json:"failures,omitempty"`

	Progress Progress `json:"progress"`

	// Steps counts executed state-machine transitions, across resume.
	// The executor aborts the run when Steps exceeds the step budget.
	Steps int `json:"steps"`

	// RecoverySwept marks that the pre-finalize sweep over retryable
	// failed units has already happened.
	RecoverySwept bool `json:"recovery_swept,omitempty"`
}

// NewGenerationState builds the initial state for a validated request.
func NewGenerationState(runID string, req GenerationRequest) GenerationState {
	return GenerationState{
		RunID:   runID,
		Request: req,
		Cursor:  -1,
	}
}

// CurrentUnit returns the unit at the cursor, or nil when no unit is
// in flight.
func (s *GenerationState) CurrentUnit() *Unit {
	if s.Cursor < 0 || s.Cursor >= len(s.Units) {
		return nil
	}
	return &s.Units[s.Cursor]
}

// UnitCounts returns the number of completed and failed units.
func (s *GenerationState) UnitCounts() (completed, failed int) {
	for i := range s.Units {
		switch s.Units[i].Status {
		case UnitComplete:
			completed++
		case UnitFailed:
			failed++
		}
	}
	return completed, failed
}

// AllUnitsTerminal reports whether every planned unit reached a
// terminal status.
func (s *GenerationState) AllUnitsTerminal() bool {
	for i := range s.Units {
		if !s.Units[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// requireField builds the fatal error for a node that found required
// state missing or malformed.
func requireField(nodeID, field, reason string) *StateValidationError {
	return &StateValidationError{NodeID: nodeID, Field: field, Reason: reason}
}
