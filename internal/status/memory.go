package status

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests and local runs without a
// database. It keeps the same upsert semantics as the Postgres store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	history map[string][]Status
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory status store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		history: make(map[string][]Status),
	}
}

// Upsert replaces the record for rec.TaskID and appends to its history.
func (m *MemoryStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.TaskID] = rec
	m.history[rec.TaskID] = append(m.history[rec.TaskID], rec.Status)
	return nil
}

// Get returns the current record for a task id.
func (m *MemoryStore) Get(taskID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[taskID]
	return rec, ok
}

// History returns every status written for a task id, in write order.
func (m *MemoryStore) History(taskID string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, len(m.history[taskID]))
	copy(out, m.history[taskID])
	return out
}
