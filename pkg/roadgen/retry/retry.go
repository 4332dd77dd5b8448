// Package retry executes remote operations under a bounded retry
// policy with exponential backoff.
//
// Every attempt, including the first and every retry, passes through
// the rate limiter before it is dispatched; backoff never bypasses
// admission control. Errors are classified through the faults package:
// transient errors are retried up to the attempt ceiling, permanent
// errors abort immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen/config"
	"github.com/pathforge/roadgen/pkg/roadgen/faults"
	"github.com/pathforge/roadgen/pkg/roadgen/observability"
)

// Policy bounds the retry behavior for one class of operations.
type Policy struct {
	// MaxAttempts is the total number of attempts, the first included.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry; each further
	// retry doubles it.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration

	// Jitter is the fraction of the computed delay added at random to
	// decorrelate concurrent retriers. Zero disables jitter.
	Jitter float64
}

// DefaultPolicy mirrors the generation pipeline's standard budget:
// three attempts with a one second base backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
	}
}

// PolicyFromConfig builds a Policy from a runtime configuration
// section.
//
// Recognized keys: max_attempts, base_delay, max_delay, jitter.
func PolicyFromConfig(cfg config.Config) Policy {
	d := DefaultPolicy()
	return Policy{
		MaxAttempts: cfg.Int("max_attempts", d.MaxAttempts),
		BaseDelay:   cfg.Duration("base_delay", d.BaseDelay),
		MaxDelay:    cfg.Duration("max_delay", d.MaxDelay),
		Jitter:      cfg.Float("jitter", d.Jitter),
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the backoff before retry number retryIndex (zero-based):
// BaseDelay * 2^retryIndex, capped at MaxDelay.
func (p Policy) Delay(retryIndex int) time.Duration {
	if retryIndex < 0 {
		retryIndex = 0
	}
	d := p.BaseDelay
	for i := 0; i < retryIndex; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ExhaustedError reports that an operation failed permanently: either
// the error itself was permanent, or the attempt budget ran out.
type ExhaustedError struct {
	// Op names the operation that failed.
	Op string

	// Attempts is how many attempts were made.
	Attempts int

	// Err is the last error observed.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Limiter admits one outbound call per Acquire.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Executor runs operations under a limiter and a retry policy.
// Safe for concurrent use.
type Executor struct {
	limiter Limiter
	policy  Policy

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	sleep   func(ctx context.Context, d time.Duration) error
	randFn  func() float64
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger for retry events.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics recorder for attempt outcomes.
func WithMetrics(m observability.MetricsRecorder) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithSleep overrides the backoff sleeper. Tests use this to run
// deterministically.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRand overrides the jitter source. Tests use this to make delays
// exact.
func WithRand(fn func() float64) ExecutorOption {
	return func(e *Executor) { e.randFn = fn }
}

// NewExecutor creates an executor. The limiter gates every attempt; a
// nil limiter disables admission control (useful in tests).
func NewExecutor(limiter Limiter, policy Policy, opts ...ExecutorOption) *Executor {
	e := &Executor{
		limiter: limiter,
		policy:  policy.withDefaults(),
		metrics: observability.NoopMetrics{},
		sleep:   sleepContext,
		randFn:  rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs fn until it succeeds, fails permanently, or exhausts the
// attempt budget. It returns the number of attempts made alongside the
// final error; on success the error is nil.
//
// Before each attempt the executor waits out the backoff (none before
// the first), then acquires the rate limiter. A server-provided
// retry-after hint on the previous error replaces the computed backoff
// when it is larger. Context cancellation and admission timeouts
// propagate unchanged so callers can tell them apart from operation
// failures.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.policy.Delay(attempt - 1)
			if hint := faults.RetryAfterHint(lastErr); hint > delay {
				delay = hint
			}
			if e.policy.Jitter > 0 {
				delay += time.Duration(e.randFn() * e.policy.Jitter * float64(delay))
			}
			observability.LogCallRetry(e.logger, op, attempt, delay, lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return attempt, err
			}
		}

		if e.limiter != nil {
			if err := e.limiter.Acquire(ctx); err != nil {
				return attempt, err
			}
		}

		start := time.Now()
		err := fn(ctx)
		e.metrics.RecordRemoteCall(ctx, op, time.Since(start), err)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if !faults.IsRetryable(err) {
			return attempt + 1, &ExhaustedError{Op: op, Attempts: attempt + 1, Err: err}
		}
	}

	observability.LogCallExhausted(e.logger, op, e.policy.MaxAttempts, lastErr)
	return e.policy.MaxAttempts, &ExhaustedError{Op: op, Attempts: e.policy.MaxAttempts, Err: lastErr}
}

// IsExhausted reports whether err is a retry exhaustion (permanent
// operation failure, as opposed to cancellation or admission timeout).
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
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
