package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists unit content to SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite content store.
// The path should be a file path or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS units (
			run_id TEXT NOT NULL,
			unit_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			title TEXT NOT NULL,
			objective TEXT NOT NULL,
			content TEXT NOT NULL,
			tasks TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, unit_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// PersistUnit implements DurableStore.
func (s *SQLiteStore) PersistUnit(ctx context.Context, rec UnitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	tasks, err := json.Marshal(rec.Tasks)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO units (run_id, unit_id, ordinal, title, objective, content, tasks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, unit_id) DO UPDATE SET
			ordinal = excluded.ordinal,
			title = excluded.title,
			objective = excluded.objective,
			content = excluded.content,
			tasks = excluded.tasks,
			created_at = excluded.created_at
	`, rec.RunID, rec.UnitID, rec.Ordinal, rec.Title, rec.Objective, rec.Content,
		string(tasks), rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("persist unit: %w", err)
	}
	return nil
}

// LoadUnit implements DurableStore.
func (s *SQLiteStore) LoadUnit(ctx context.Context, runID, unitID string) (UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return UnitRecord{}, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, unit_id, ordinal, title, objective, content, tasks, created_at
		FROM units
		WHERE run_id = ? AND unit_id = ?
	`, runID, unitID)

	rec, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return UnitRecord{}, ErrNotFound
	}
	if err != nil {
		return UnitRecord{}, fmt.Errorf("load unit: %w", err)
	}
	return rec, nil
}

// LoadUnits implements DurableStore.
func (s *SQLiteStore) LoadUnits(ctx context.Context, runID string) ([]UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, unit_id, ordinal, title, objective, content, tasks, created_at
		FROM units
		WHERE run_id = ?
		ORDER BY ordinal
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	defer rows.Close()

	recs := make([]UnitRecord, 0)
	for rows.Next() {
		rec, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return recs, nil
}

// DeleteRun implements DurableStore.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run units: %w", err)
	}
	return nil
}

// Close implements DurableStore.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (UnitRecord, error) {
	var rec UnitRecord
	var tasks, createdAt string
	if err := row.Scan(&rec.RunID, &rec.UnitID, &rec.Ordinal, &rec.Title,
		&rec.Objective, &rec.Content, &tasks, &createdAt); err != nil {
		return UnitRecord{}, err
	}
	if err := json.Unmarshal([]byte(tasks), &rec.Tasks); err != nil {
		return UnitRecord{}, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return rec, nil
}
