package roadgen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen/config"
	"github.com/pathforge/roadgen/pkg/roadgen/observability"
	"github.com/pathforge/roadgen/pkg/roadgen/remote"
	"github.com/pathforge/roadgen/pkg/roadgen/retry"
	"github.com/pathforge/roadgen/pkg/roadgen/store"
)

// SubcallPolicy selects how the two sub-calls of unit generation
// (content, then tasks) are dispatched.
type SubcallPolicy string

const (
	// SubcallSequential runs content then tasks one after another.
	// Default: keeps single-window rate accounting exact.
	SubcallSequential SubcallPolicy = "sequential"

	// SubcallParallel runs both sub-calls concurrently. Only safe when
	// the rate limiter's budget is sized for the added concurrency
	// (e.g. a shared ledger across processes). Both sub-calls still
	// acquire the same limiter; only calls within one unit overlap,
	// never across units.
	SubcallParallel SubcallPolicy = "parallel"
)

// Pipeline holds the collaborators and policies of the generation
// workflow. Build it once and share its compiled graph across runs.
type Pipeline struct {
	client   remote.Client
	analyzer SourceAnalyzer
	exec     *retry.Executor
	content  store.DurableStore

	policy         SubcallPolicy
	maxUnitRetries int
	recoveryBase   time.Duration
	callTimeout    time.Duration

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	sleep   func(ctx context.Context, d time.Duration) error
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRetryExecutor sets the executor wrapping every remote call.
// Without it, calls run once with no admission control.
func WithRetryExecutor(exec *retry.Executor) PipelineOption {
	return func(p *Pipeline) { p.exec = exec }
}

// WithDurableStore sets the downstream store for finished unit
// content. Persist success evicts the payload from live state.
func WithDurableStore(s store.DurableStore) PipelineOption {
	return func(p *Pipeline) { p.content = s }
}

// WithSubcallPolicy sets sequential or parallel sub-call dispatch.
func WithSubcallPolicy(policy SubcallPolicy) PipelineOption {
	return func(p *Pipeline) {
		if policy == SubcallSequential || policy == SubcallParallel {
			p.policy = policy
		}
	}
}

// WithMaxUnitRetries caps recovery re-entries per unit.
func WithMaxUnitRetries(n int) PipelineOption {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxUnitRetries = n
		}
	}
}

// WithRecoveryBase sets the base backoff for recovery re-entries.
func WithRecoveryBase(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.recoveryBase = d
		}
	}
}

// WithCallTimeout sets the per-call upper bound on one remote call.
func WithCallTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// WithPipelineLogger sets the logger for unit lifecycle events.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithPipelineMetrics sets the metrics recorder for unit outcomes.
func WithPipelineMetrics(m observability.MetricsRecorder) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithSpans enables spans around outbound model calls.
func WithSpans(spans observability.SpanManager) PipelineOption {
	return func(p *Pipeline) {
		if spans != nil {
			p.spans = spans
		}
	}
}

// WithRecoverySleep overrides the recovery backoff sleeper. Tests use
// this to run deterministically.
func WithRecoverySleep(sleep func(ctx context.Context, d time.Duration) error) PipelineOption {
	return func(p *Pipeline) { p.sleep = sleep }
}

// NewPipeline creates a pipeline around a model client and source
// analyzer.
func NewPipeline(client remote.Client, analyzer SourceAnalyzer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		client:         client,
		analyzer:       analyzer,
		policy:         SubcallSequential,
		maxUnitRetries: 3,
		recoveryBase:   time.Second,
		callTimeout:    120 * time.Second,
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.exec == nil {
		p.exec = retry.NewExecutor(nil, retry.DefaultPolicy())
	}
	return p
}

// PipelineOptionsFromConfig maps a runtime configuration section to
// pipeline options.
//
// Recognized keys: subcall_policy, max_unit_retries, recovery_base,
// call_timeout.
func PipelineOptionsFromConfig(cfg config.Config) []PipelineOption {
	var opts []PipelineOption
	if cfg.Has("subcall_policy") {
		opts = append(opts, WithSubcallPolicy(SubcallPolicy(cfg.String("subcall_policy", string(SubcallSequential)))))
	}
	if cfg.Has("max_unit_retries") {
		opts = append(opts, WithMaxUnitRetries(cfg.Int("max_unit_retries", 3)))
	}
	if cfg.Has("recovery_base") {
		opts = append(opts, WithRecoveryBase(cfg.Duration("recovery_base", time.Second)))
	}
	if cfg.Has("call_timeout") {
		opts = append(opts, WithCallTimeout(cfg.Duration("call_timeout", 120*time.Second)))
	}
	return opts
}

// BuildGraph wires the pipeline nodes into the workflow graph and
// compiles it.
//
// Topology:
//
//	fetch_context -> analyze_source -> plan_units -> select_next_unit
//	select_next_unit --(unit picked)--> generate_unit
//	select_next_unit --(all terminal)--> finalize -> END
//	generate_unit --(ok)--> mark_unit_complete -> select_next_unit
//	generate_unit --(failure)--> recover_unit
//	recover_unit --(retry scheduled)--> generate_unit
//	recover_unit --(unit failed)--> select_next_unit
func (p *Pipeline) BuildGraph() (*CompiledGraph, error) {
	return NewGraph().
		AddNode(NodeFetchContext, p.fetchContext).
		AddNode(NodeAnalyzeSource, p.analyzeSource).
		AddNode(NodePlanUnits, p.planUnits).
		AddNode(NodeSelectNextUnit, p.selectNextUnit).
		AddNode(NodeGenerateUnit, p.generateUnit).
		AddNode(NodeMarkUnitComplete, p.markUnitComplete).
		AddNode(NodeRecoverUnit, p.recoverUnit).
		AddNode(NodeFinalize, p.finalize).
		AddEdge(NodeFetchContext, NodeAnalyzeSource).
		AddEdge(NodeAnalyzeSource, NodePlanUnits).
		AddEdge(NodePlanUnits, NodeSelectNextUnit).
		AddConditionalEdge(NodeSelectNextUnit, routeAfterSelect).
		AddConditionalEdge(NodeGenerateUnit, routeAfterGenerate).
		AddEdge(NodeMarkUnitComplete, NodeSelectNextUnit).
		AddConditionalEdge(NodeRecoverUnit, routeAfterRecover).
		AddEdge(NodeFinalize, END).
		SetEntry(NodeFetchContext).
		Compile()
}

// routeAfterSelect goes to generation when a unit was picked,
// otherwise to finalization.
func routeAfterSelect(ctx Context, state GenerationState) string {
	if state.CurrentUnit() != nil {
		return NodeGenerateUnit
	}
	return NodeFinalize
}

// routeAfterGenerate hands failures to recovery, successes to
// completion.
func routeAfterGenerate(ctx Context, state GenerationState) string {
	if state.PendingFailure != nil {
		return NodeRecoverUnit
	}
	return NodeMarkUnitComplete
}

// routeAfterRecover re-enters generation while the unit is still in
// flight, otherwise moves on to the next unit.
func routeAfterRecover(ctx Context, state GenerationState) string {
	if u := state.CurrentUnit(); u != nil && u.Status == UnitGenerating {
		return NodeGenerateUnit
	}
	return NodeSelectNextUnit
}

// completeCall performs one rate-governed, retried model call and
// decodes the JSON payload from its output into v.
func (p *Pipeline) completeCall(ctx Context, op, unitID, system, prompt string, v any) (attempts int, err error) {
	spanCtx, span := p.spans.StartRemoteCallSpan(ctx, op, unitID)
	defer func() { p.spans.EndSpanWithError(span, err) }()

	attempts, err = p.exec.Do(spanCtx, op, func(callCtx context.Context) error {
		// An in-flight call is allowed to complete even when the run
		// is cancelled, so paid-for partial work is not discarded; the
		// per-call timeout still bounds it. Admission waits and retry
		// backoffs stay cancellable through the executor's context.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(callCtx), p.callTimeout)
		defer cancel()

		resp, callErr := p.client.Complete(callCtx, remote.CompletionRequest{
			SystemPrompt: system,
			Messages: []remote.Message{
				{Role: remote.RoleUser, Content: prompt},
			},
		})
		if callErr != nil {
			return callErr
		}
		return remote.DecodeJSON(resp.Content, v)
	})
	return attempts, err
}

const plannerSystemPrompt = "You are a curriculum planner. Respond with a JSON array only."

const generatorSystemPrompt = "You are an expert instructor writing learning material. Respond with a JSON object only."

// planPrompt asks the model for the ordered unit plan.
func (p *Pipeline) planPrompt(state GenerationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a %d-day learning roadmap for a %s developer.\n\n",
		state.Request.TargetDays, state.Request.SkillLevel)
	b.WriteString(state.ProjectContext)
	if state.Analysis.Summary != "" {
		fmt.Fprintf(&b, "\nSource analysis:\n%s\n", state.Analysis.Summary)
	}
	if len(state.Analysis.Topics) > 0 {
		fmt.Fprintf(&b, "Key topics: %s\n", strings.Join(state.Analysis.Topics, ", "))
	}
	b.WriteString("\nReturn a JSON array of units, each with \"day\", \"title\", and \"objective\" fields, ordered by day.")
	return b.String()
}

// contentPrompt asks the model for one unit's learning content. The
// memory ledger of completed units keeps later content consistent
// with what came before.
func (p *Pipeline) contentPrompt(state GenerationState, u Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the learning content for unit %d of a %s-level roadmap.\n",
		u.Ordinal+1, state.Request.SkillLevel)
	fmt.Fprintf(&b, "Title: %s\nObjective: %s\n", u.Title, u.Objective)
	if len(state.Summaries) > 0 {
		b.WriteString("\nAlready covered:\n")
		for _, s := range state.Summaries {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.Objective)
		}
	}
	b.WriteString("\nReturn a JSON object with a \"content\" field containing the material in markdown.")
	return b.String()
}

// tasksPrompt asks the model for the unit's practice tasks. It uses
// only unit metadata so it stays valid under parallel dispatch, where
// the content call has not finished yet.
func (p *Pipeline) tasksPrompt(state GenerationState, u Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write practice tasks for a %s-level unit.\n", state.Request.SkillLevel)
	fmt.Fprintf(&b, "Title: %s\nObjective: %s\n", u.Title, u.Objective)
	b.WriteString("\nReturn a JSON array of task description strings.")
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
