package mapping

import (
	"maps"
	"sync"
)

// Store is the knowledge/configuration store the mapper writes into. It must
// support instantiation as an isolated copy for sandbox trials.
type Store interface {
	CurrentValue(targetID string) float64
	SetValue(targetID string, value float64)
	Snapshot() map[string]float64
}

// MemoryStore is the in-process Store. All access goes through one lock.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewMemoryStore creates a store seeded with the given values.
func NewMemoryStore(seed map[string]float64) *MemoryStore {
	values := make(map[string]float64, len(seed))
	maps.Copy(values, seed)
	return &MemoryStore{values: values}
}

// CurrentValue returns the stored value for a target, zero if absent.
func (s *MemoryStore) CurrentValue(targetID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[targetID]
}

// SetValue writes a target's value. Last write wins.
func (s *MemoryStore) SetValue(targetID string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[targetID] = value
}

// Snapshot returns a copy of all values.
func (s *MemoryStore) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.values))
	maps.Copy(out, s.values)
	return out
}

// Clone returns an isolated copy for sandbox trials. Mutations of the clone
// never reach the original.
func (s *MemoryStore) Clone() *MemoryStore {
	return NewMemoryStore(s.Snapshot())
}

// Restore overwrites the store's full state from a snapshot.
func (s *MemoryStore) Restore(snapshot map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]float64, len(snapshot))
	maps.Copy(s.values, snapshot)
}
