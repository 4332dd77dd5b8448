package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory content store for testing.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]UnitRecord // runID -> unitID -> record
	closed bool
}

// NewMemoryStore creates a new in-memory content store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]UnitRecord),
	}
}

// PersistUnit implements DurableStore.
func (m *MemoryStore) PersistUnit(_ context.Context, rec UnitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	// Copy the task slice so later caller mutation can't reach us.
	rec.Tasks = append([]string(nil), rec.Tasks...)

	if m.data[rec.RunID] == nil {
		m.data[rec.RunID] = make(map[string]UnitRecord)
	}
	m.data[rec.RunID][rec.UnitID] = rec
	return nil
}

// LoadUnit implements DurableStore.
func (m *MemoryStore) LoadUnit(_ context.Context, runID, unitID string) (UnitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return UnitRecord{}, ErrStoreClosed
	}

	rec, ok := m.data[runID][unitID]
	if !ok {
		return UnitRecord{}, ErrNotFound
	}
	rec.Tasks = append([]string(nil), rec.Tasks...)
	return rec, nil
}

// LoadUnits implements DurableStore.
func (m *MemoryStore) LoadUnits(_ context.Context, runID string) ([]UnitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run := m.data[runID]
	recs := make([]UnitRecord, 0, len(run))
	for _, rec := range run {
		rec.Tasks = append([]string(nil), rec.Tasks...)
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Ordinal < recs[j].Ordinal
	})
	return recs, nil
}

// DeleteRun implements DurableStore.
func (m *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, runID)
	return nil
}

// Close implements DurableStore.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}
