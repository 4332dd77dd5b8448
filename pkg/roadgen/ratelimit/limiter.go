// Package ratelimit provides the admission-control gate in front of
// every outbound model call.
//
// The limiter enforces two constraints at once: a ceiling on grants in
// any rolling window, and a minimum spacing between consecutive grants.
// Grant times are assigned atomically by a Ledger (single arbiter), then
// the caller sleeps until its assigned time. Because slots are reserved
// at future-dated times while the arbiter is held, no two callers can
// race past the same budget increment, and nobody holds a lock while
// sleeping.
//
// Two ledgers are provided: an in-process MemoryLedger and a
// SQLite-backed SQLiteLedger for coordinating across processes. When a
// shared ledger fails, the limiter degrades to a local ledger instead
// of denying service; cross-process coordination is lost until the
// shared ledger recovers.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen/config"
	"github.com/pathforge/roadgen/pkg/roadgen/observability"
)

// ErrAcquireTimeout indicates the caller's deadline would expire before
// a grant could legally be issued. Nothing is consumed from the budget.
var ErrAcquireTimeout = errors.New("rate limit acquire timeout")

// Config holds the limiter's runtime-tunable knobs.
type Config struct {
	// Window is the rolling interval over which grants are counted.
	Window time.Duration

	// MaxPerWindow is the grant ceiling within any rolling window.
	MaxPerWindow int

	// MinSpacing is the minimum gap between consecutive grants.
	MinSpacing time.Duration
}

// DefaultConfig mirrors a conservative 20-requests-per-minute budget
// with three seconds between calls.
func DefaultConfig() Config {
	return Config{
		Window:       time.Minute,
		MaxPerWindow: 20,
		MinSpacing:   3 * time.Second,
	}
}

// FromConfig builds a Config from a runtime configuration section.
//
// Recognized keys: window, max_per_window, min_spacing.
func FromConfig(cfg config.Config) Config {
	d := DefaultConfig()
	return Config{
		Window:       cfg.Duration("window", d.Window),
		MaxPerWindow: cfg.Int("max_per_window", d.MaxPerWindow),
		MinSpacing:   cfg.Duration("min_spacing", d.MinSpacing),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = d.MaxPerWindow
	}
	if c.MinSpacing < 0 {
		c.MinSpacing = 0
	}
	return c
}

// Ledger atomically assigns grant times for one shared budget.
//
// Reserve returns the soonest legal grant time at or after now and
// records it. If that time falls after notAfter (zero means no
// deadline), nothing is recorded and ok is false. Implementations must
// make the compute-and-record step atomic: a mutex in process, a
// transaction across processes.
type Ledger interface {
	Reserve(now, notAfter time.Time, cfg Config) (grant time.Time, ok bool, err error)
}

// Limiter grants admission to outbound calls.
// Safe for concurrent use by multiple runs.
type Limiter struct {
	cfg    Config
	ledger Ledger
	local  *MemoryLedger

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLedger sets a shared ledger (e.g. SQLiteLedger) for cross-process
// coordination. The limiter keeps a local ledger as a degraded fallback.
func WithLedger(ledger Ledger) Option {
	return func(l *Limiter) { l.ledger = ledger }
}

// WithLogger sets the logger for wait and degradation events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics sets the metrics recorder for wait times.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithClock overrides the time source and sleeper. Tests use this to
// drive the limiter deterministically.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// NewLimiter creates a limiter with the given budget.
// Without WithLedger it coordinates within the process only.
func NewLimiter(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:     cfg.withDefaults(),
		local:   NewMemoryLedger(),
		metrics: observability.NoopMetrics{},
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ledger == nil {
		l.ledger = l.local
	}
	return l
}

// Acquire blocks until a grant is legal, then consumes one budget slot.
//
// If ctx carries a deadline that would expire before the soonest legal
// grant time, Acquire fails fast with ErrAcquireTimeout without
// consuming budget. Context cancellation during the wait returns the
// context error; the reserved slot stays consumed, which only makes the
// limiter more conservative.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.now()
	var notAfter time.Time
	if dl, ok := ctx.Deadline(); ok {
		notAfter = dl
	}

	grant, ok, err := l.ledger.Reserve(now, notAfter, l.cfg)
	if err != nil {
		// Shared ledger unavailable: degrade to the local ledger
		// rather than denying service.
		observability.LogLedgerDegraded(l.logger, err)
		grant, ok, err = l.local.Reserve(now, notAfter, l.cfg)
		if err != nil {
			return err
		}
	}
	if !ok {
		return ErrAcquireTimeout
	}

	wait := grant.Sub(now)
	if wait <= 0 {
		return nil
	}

	observability.LogRateWait(l.logger, wait, "budget")
	l.metrics.RecordRateWait(ctx, wait)
	return l.sleep(ctx, wait)
}

// sleepContext sleeps for d, aborting early if ctx is done.
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
