/*
Package roadgen generates learning roadmaps from source material by
driving a remote language model through a checkpointed, rate-governed
state machine.

# Overview

A run turns one GenerationRequest into an ordered set of learning
units. The pipeline analyzes the source, plans the units, then
generates each unit's content and practice tasks with separate model
calls. Every remote call passes through a shared rate limiter and a
bounded retry executor; every state transition is snapshotted so a
crashed run resumes where it stopped instead of regenerating paid-for
content.

# Basic Usage

Wire a Pipeline with a model client and a source analyzer, then drive
it through the Engine:

	pipeline := roadgen.NewPipeline(client, analyzer,
	    roadgen.WithDurableStore(contentStore))

	engine, err := roadgen.NewEngine(pipeline,
	    roadgen.WithCheckpoints(checkpointStore))
	if err != nil {
	    log.Fatal(err)
	}

	runID, err := engine.Submit(ctx, roadgen.GenerationRequest{
	    ProjectID:  "my-project",
	    SourceRef:  "github.com/example/api",
	    SkillLevel: roadgen.SkillIntermediate,
	    TargetDays: 5,
	})
	if err != nil {
	    log.Fatal(err)
	}

	result, err := engine.Wait(ctx, runID)

The run executes on its own goroutine. Observe it with GetProgress,
collect the outcome with GetResult or Wait, stop it with Cancel.

# Failure Isolation

A unit that keeps failing is marked failed and the run moves on; one
bad unit never poisons the rest. Transient failures (throttling,
server errors, timeouts) are retried with exponential backoff at the
call level and bounded re-entries at the unit level. Permanent
failures (rejected requests, undecodable output) fail the unit on the
first attempt. The final Result enumerates completed and failed units
separately, and a run with partial failures still finalizes.

# Crash Recovery

With a checkpoint store configured, a snapshot is saved after every
transition:

	store, err := checkpoint.NewSQLiteStore("./checkpoints.db")
	...
	engine, err := roadgen.NewEngine(pipeline, roadgen.WithCheckpoints(store))

	// After a crash or cancellation:
	err = engine.Resume(ctx, runID)

Resumed runs skip units already completed, so the completion set
matches what an uninterrupted run would have produced.

# Rate Governance

All model calls draw from one admission budget (rolling window plus
minimum spacing). Point multiple processes at the same SQLite ledger
to share a provider quota; if the shared ledger becomes unavailable
the limiter degrades to local accounting rather than denying service.

	ledger, err := ratelimit.NewSQLiteLedger("./ratelimit.db", "openai")
	...
	limiter := ratelimit.NewLimiter(cfg, ratelimit.WithLedger(ledger))
	exec := retry.NewExecutor(limiter, retry.DefaultPolicy())
	pipeline := roadgen.NewPipeline(client, analyzer,
	    roadgen.WithRetryExecutor(exec))

# Thread Safety

  - Engine is safe for concurrent use; concurrent runs share the
    pipeline's limiter and stores.
  - Graph is NOT safe for concurrent use during construction.
  - CompiledGraph is safe for concurrent use (immutable).
  - GenerationState is exclusively owned by its run; nodes never share
    it across goroutines except through the parallel sub-call path,
    which merges results before the node returns.

# Subpackages

  - checkpoint: run snapshot storage (memory, SQLite)
  - store: durable unit content storage (memory, SQLite)
  - ratelimit: shared admission control with pluggable ledgers
  - retry: bounded retry executor with backoff and jitter
  - faults: error taxonomy separating transient from permanent
  - remote: model client interface, OpenAI implementation, mock
  - config: YAML/JSON runtime configuration
  - observability: logging, metrics, and tracing helpers
*/
package roadgen
