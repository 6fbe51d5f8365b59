package addrstore

import (
	"context"
	"sync"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// NewMemoryStore creates an in-memory store. Used by tests and dry-run
// previews that must not touch disk.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[resource.Key]resource.Record)}
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[resource.Key]resource.Record
}

func (m *MemoryStore) Get(_ context.Context, key resource.Key) (resource.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, rec resource.Record) error {
	if err := validateRecord(&rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.records[rec.Key]
	write, err := admit(existing, found, rec)
	if err != nil || !write {
		return err
	}
	m.records[rec.Key] = rec
	return nil
}

func (m *MemoryStore) Records(_ context.Context) ([]resource.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]resource.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
