package benchmarks

import (
	"context"
	"testing"
	"time"

	"github.com/pathforge/roadgen/pkg/roadgen/faults"
	"github.com/pathforge/roadgen/pkg/roadgen/ratelimit"
	"github.com/pathforge/roadgen/pkg/roadgen/retry"
)

// fakeClock advances instead of sleeping so limiter benchmarks
// measure bookkeeping, not wall-clock waits.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

// BenchmarkLimiterAcquire measures admission with spacing enforced on
// every grant.
func BenchmarkLimiterAcquire(b *testing.B) {
	clock := &fakeClock{now: time.Now()}
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Window:       time.Minute,
		MaxPerWindow: 1 << 30,
		MinSpacing:   3 * time.Second,
	}, ratelimit.WithClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryLedgerReserve measures the grant arithmetic with a
// full rolling window to prune.
func BenchmarkMemoryLedgerReserve(b *testing.B) {
	ledger := ratelimit.NewMemoryLedger()
	cfg := ratelimit.Config{
		Window:       time.Minute,
		MaxPerWindow: 20,
		MinSpacing:   3 * time.Second,
	}
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		grant, ok, err := ledger.Reserve(now, time.Time{}, cfg)
		if err != nil || !ok {
			b.Fatal(err)
		}
		now = grant
	}
}

// BenchmarkExecutorDo_FirstAttempt measures the executor's overhead
// when the call succeeds immediately.
func BenchmarkExecutorDo_FirstAttempt(b *testing.B) {
	exec := retry.NewExecutor(nil, retry.DefaultPolicy(), retry.WithSleep(noSleep))
	ctx := context.Background()
	ok := func(ctx context.Context) error { return nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exec.Do(ctx, "bench", ok); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkExecutorDo_TwoRetries measures backoff scheduling across
// transient failures.
func BenchmarkExecutorDo_TwoRetries(b *testing.B) {
	exec := retry.NewExecutor(nil,
		retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute},
		retry.WithSleep(noSleep),
		retry.WithRand(func() float64 { return 0 }),
	)
	ctx := context.Background()
	throttled := &faults.RemoteError{StatusCode: 429, Message: "rate limited"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		calls := 0
		_, err := exec.Do(ctx, "bench", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return throttled
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
