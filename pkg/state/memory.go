package state

import (
	"context"
	"sort"
	"sync"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// MemoryStore keeps records in a map. It does not persist and is meant for
// tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[types.CrateID]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[types.CrateID]Record)}
}

// Get returns the record for id
func (m *MemoryStore) Get(_ context.Context, id types.CrateID) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

// HasTerminalOutcome reports whether id has a terminal record
func (m *MemoryStore) HasTerminalOutcome(ctx context.Context, id types.CrateID) (bool, error) {
	return hasTerminal(ctx, m, id)
}

// RecordOutcome overwrites the record for id
func (m *MemoryStore) RecordOutcome(_ context.Context, id types.CrateID, rec Record) error {
	if err := rec.Validate(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = stamp(id, rec)
	return nil
}

// ClearFailureMarkers removes a failure-class record for id
func (m *MemoryStore) ClearFailureMarkers(_ context.Context, id types.CrateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok && !rec.Outcome.Kind.IsSuccessClass() {
		delete(m.records, id)
	}
	return nil
}

// List returns all records sorted by crate
func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Crate < out[j].Crate })
	return out, nil
}

// Delete removes the record for id
func (m *MemoryStore) Delete(_ context.Context, id types.CrateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
