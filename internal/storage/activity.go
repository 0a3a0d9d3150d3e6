package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

// MemoryActivityStore is the in-memory activity type table. Lookups counts
// Get calls so callers can verify memoization.
type MemoryActivityStore struct {
	mu      sync.RWMutex
	types   map[string]model.ActivityType
	lookups int
}

// NewMemoryActivityStore constructs a MemoryActivityStore.
func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{types: make(map[string]model.ActivityType)}
}

// Count returns the number of cached types.
func (m *MemoryActivityStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.types), nil
}

// Get returns one type by id.
func (m *MemoryActivityStore) Get(_ context.Context, id string) (*model.ActivityType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	t, ok := m.types[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// UpsertAll inserts or replaces every type.
func (m *MemoryActivityStore) UpsertAll(_ context.Context, types []model.ActivityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range types {
		m.types[t.ID] = t
	}
	return nil
}

// DeleteAll empties the table.
func (m *MemoryActivityStore) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = make(map[string]model.ActivityType)
	return nil
}

// List returns every type ordered by name.
func (m *MemoryActivityStore) List(_ context.Context) ([]model.ActivityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ActivityType, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Lookups returns how many times Get was called.
func (m *MemoryActivityStore) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookups
}
