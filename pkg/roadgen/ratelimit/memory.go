package ratelimit

import (
	"sync"
	"time"
)

// MemoryLedger is an in-process grant ledger. A mutex is the single
// arbiter: the soonest-legal-time computation and the record happen
// under one critical section.
type MemoryLedger struct {
	mu     sync.Mutex
	grants []time.Time // sorted ascending; reservations may be future-dated
	last   time.Time   // latest grant issued
}

// NewMemoryLedger creates an empty in-process ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Reserve implements Ledger.
func (m *MemoryLedger) Reserve(now, notAfter time.Time, cfg Config) (time.Time, bool, error) {
	cfg = cfg.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	grant := soonestGrant(now, m.last, m.grants, cfg)

	if !notAfter.IsZero() && grant.After(notAfter) {
		return time.Time{}, false, nil
	}

	m.grants = append(m.grants, grant)
	m.last = grant
	m.prune(grant.Add(-cfg.Window))
	return grant, true, nil
}

// prune drops grants at or before cutoff. Grants are sorted, so stop at
// the first survivor.
func (m *MemoryLedger) prune(cutoff time.Time) {
	i := 0
	for i < len(m.grants) && !m.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.grants = append(m.grants[:0], m.grants[i:]...)
	}
}

// Len returns the number of retained grants. Useful for testing.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.grants)
}

// soonestGrant computes the earliest time at or after now at which a
// grant satisfies both the minimum spacing and the rolling-window
// ceiling, given the sorted grant history.
//
// The candidate starts at max(now, last+spacing). While the window
// ending at the candidate is full, the candidate moves to the point
// where the window's oldest grant falls out; spacing is then re-checked.
func soonestGrant(now, last time.Time, grants []time.Time, cfg Config) time.Time {
	candidate := now
	for {
		if !last.IsZero() {
			if earliest := last.Add(cfg.MinSpacing); candidate.Before(earliest) {
				candidate = earliest
			}
		}

		oldest, count := windowAt(candidate, grants, cfg.Window)
		if count < cfg.MaxPerWindow {
			return candidate
		}
		candidate = oldest.Add(cfg.Window)
	}
}

// windowAt returns the oldest grant and the grant count within
// (t-window, t].
func windowAt(t time.Time, grants []time.Time, window time.Duration) (time.Time, int) {
	start := t.Add(-window)
	var oldest time.Time
	count := 0
	for _, g := range grants {
		if g.After(start) && !g.After(t) {
			if count == 0 {
				oldest = g
			}
			count++
		}
	}
	return oldest, count
}
