package rundata

import (
	"context"
	"sync"
)

// Store gives read access to the previous execution of the current workflow
type Store interface {
	RunData(ctx context.Context) (RunHistory, error)
	PinnedData(ctx context.Context) (PinnedData, error)
}

// MemoryStore keeps the history of the last execution in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	history RunHistory
	pinned  PinnedData
}

// NewMemoryStore creates a store seeded with the given history and pinned data
func NewMemoryStore(history RunHistory, pinned PinnedData) *MemoryStore {
	return &MemoryStore{
		history: history.Clone(),
		pinned:  pinned.Clone(),
	}
}

// RunData returns a copy of the stored history
func (s *MemoryStore) RunData(ctx context.Context) (RunHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Clone(), nil
}

// PinnedData returns a copy of the stored pinned data
func (s *MemoryStore) PinnedData(ctx context.Context) (PinnedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pinned.Clone(), nil
}

// SetRunData replaces the stored history, e.g. once an execution finished
func (s *MemoryStore) SetRunData(history RunHistory) {
	s.mu.Lock()
	s.history = history.Clone()
	s.mu.Unlock()
}

// AppendRecord adds a record for a node, as the runner streams them in
func (s *MemoryStore) AppendRecord(node string, record RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		s.history = make(RunHistory)
	}
	s.history[node] = append(s.history[node], record)
}

// SetPinnedData replaces the pinned data
func (s *MemoryStore) SetPinnedData(pinned PinnedData) {
	s.mu.Lock()
	s.pinned = pinned.Clone()
	s.mu.Unlock()
}

// Clear drops the history, leaving pinned data untouched
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}
