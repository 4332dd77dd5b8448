package ratelimit

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteLedger coordinates one rate budget across processes through a
// shared SQLite database. Each Reserve runs inside a transaction so the
// read-compute-record step is atomic; an in-process mutex additionally
// serializes callers within this process.
type SQLiteLedger struct {
	db     *sql.DB
	bucket string
	mu     sync.Mutex
	closed bool
}

// NewSQLiteLedger opens (or creates) the shared grant ledger at path.
// The bucket name separates independent budgets in the same database.
func NewSQLiteLedger(path, bucket string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL plus a busy timeout so concurrent processes queue instead of
	// failing immediately.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_grants (
			bucket   TEXT NOT NULL,
			grant_ns INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_rate_grants_bucket
		ON rate_grants(bucket, grant_ns)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteLedger{db: db, bucket: bucket}, nil
}

// Reserve implements Ledger.
func (s *SQLiteLedger) Reserve(now, notAfter time.Time, cfg Config) (time.Time, bool, error) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return time.Time{}, false, fmt.Errorf("rate ledger closed")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback()

	// Load every grant still relevant to a window ending at or after
	// now. Future-dated reservations from other processes are included.
	cutoff := now.Add(-cfg.Window).UnixNano()
	rows, err := tx.Query(`
		SELECT grant_ns FROM rate_grants
		WHERE bucket = ? AND grant_ns > ?
		ORDER BY grant_ns
	`, s.bucket, cutoff)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load grants: %w", err)
	}

	var grants []time.Time
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			rows.Close()
			return time.Time{}, false, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, time.Unix(0, ns))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return time.Time{}, false, fmt.Errorf("iterate grants: %w", err)
	}
	rows.Close()

	var last time.Time
	if len(grants) > 0 {
		last = grants[len(grants)-1]
	}

	grant := soonestGrant(now, last, grants, cfg)
	if !notAfter.IsZero() && grant.After(notAfter) {
		return time.Time{}, false, nil
	}

	if _, err := tx.Exec(`
		INSERT INTO rate_grants (bucket, grant_ns) VALUES (?, ?)
	`, s.bucket, grant.UnixNano()); err != nil {
		return time.Time{}, false, fmt.Errorf("record grant: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM rate_grants
		WHERE bucket = ? AND grant_ns <= ?
	`, s.bucket, grant.Add(-cfg.Window).UnixNano()); err != nil {
		return time.Time{}, false, fmt.Errorf("prune grants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, false, fmt.Errorf("commit reserve: %w", err)
	}
	return grant, true, nil
}

// Close releases the database handle.
func (s *SQLiteLedger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
