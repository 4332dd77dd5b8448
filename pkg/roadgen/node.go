package roadgen

// END is the terminal node identifier.
// Use this as an edge target to indicate the workflow should terminate.
const END = "__end__"

// Pipeline node identifiers.
const (
	NodeFetchContext     = "fetch_context"
	NodeAnalyzeSource    = "analyze_source"
	NodePlanUnits        = "plan_units"
	NodeSelectNextUnit   = "select_next_unit"
	NodeGenerateUnit     = "generate_unit"
	NodeMarkUnitComplete = "mark_unit_complete"
	NodeRecoverUnit      = "recover_unit"
	NodeFinalize         = "finalize"
)

// NodeFunc is the signature for all workflow nodes.
// Nodes receive the execution context and current state, and return
// the updated state and any error. A returned error is fatal for the
// run; recoverable unit failures are recorded in state instead.
//
// State is passed by value. Nodes modify and return a new state value
// rather than relying on pointer mutation.
type NodeFunc func(ctx Context, state GenerationState) (GenerationState, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on
// runtime state. The router should return a valid node ID or END.
type RouterFunc func(ctx Context, state GenerationState) string
