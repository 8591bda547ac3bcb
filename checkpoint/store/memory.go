package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory Backend implementation.
//
// Designed for:
//   - Testing and development
//   - Single-process sessions
//   - Short-lived sessions where persistence isn't required
//
// MemoryBackend is thread-safe. Data is lost on process exit, and
// unlike the other backends it is always empty on construction —
// there is nothing to "reopen".
type MemoryBackend struct {
	mu       sync.RWMutex
	records  map[string]Record
	order    []string // insertion order, for stable List ordering
	branches map[string]Branch
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records:  make(map[string]Record),
		branches: make(map[string]Branch),
	}
}

func (m *MemoryBackend) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.ID]; !exists {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryBackend) List(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		rec := m.records[id]
		if filter.matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *MemoryBackend) UpdateStatus(_ context.Context, id string, newStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = newStatus
	m.records[id] = rec
	return nil
}

func (m *MemoryBackend) PutBranch(_ context.Context, b Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.Name] = b
	return nil
}

func (m *MemoryBackend) GetBranch(_ context.Context, name string) (Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branches[name]
	if !ok {
		return Branch{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryBackend) ListBranches(_ context.Context) ([]Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Branch, 0, len(m.branches))
	for _, b := range m.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryBackend) DeleteBranch(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.branches, name)
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	m.order = nil
	m.branches = make(map[string]Branch)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
