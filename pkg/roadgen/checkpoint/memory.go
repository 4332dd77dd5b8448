package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[int]storedCheckpoint // runID -> step -> checkpoint
	closed bool
}

// storedCheckpoint holds checkpoint data with metadata for List().
type storedCheckpoint struct {
	data      []byte
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[int]storedCheckpoint),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(runID string, step int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if m.data[runID] == nil {
		m.data[runID] = make(map[int]storedCheckpoint)
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	m.data[runID][step] = storedCheckpoint{
		data:      stored,
		timestamp: time.Now().UTC(),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(runID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run, ok := m.data[runID]
	if !ok || len(run) == 0 {
		return nil, ErrNotFound
	}

	latest := -1
	for step := range run {
		if step > latest {
			latest = step
		}
	}
	return copyBytes(run[latest].data), nil
}

// LoadStep implements Store.
func (m *MemoryStore) LoadStep(runID string, step int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run, ok := m.data[runID]
	if !ok {
		return nil, ErrNotFound
	}
	cp, ok := run[step]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(cp.data), nil
}

// List implements Store.
func (m *MemoryStore) List(runID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	run, ok := m.data[runID]
	if !ok {
		return nil, nil
	}

	infos := make([]Info, 0, len(run))
	for step, cp := range run {
		infos = append(infos, Info{
			RunID:     runID,
			Step:      step,
			Timestamp: cp.timestamp,
			Size:      int64(len(cp.data)),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Step < infos[j].Step
	})
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(runID string, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if run, ok := m.data[runID]; ok {
		delete(run, step)
	}
	return nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, runID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of checkpoints across all runs.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, run := range m.data {
		count += len(run)
	}
	return count
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
