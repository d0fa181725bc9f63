package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory snapshot store.
// It's the default store and suitable for single-server deployments and tests.
// Snapshots do not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	closed    bool
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// LoadSnapshot returns a copy of the stored snapshot.
func (m *MemoryStore) LoadSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	s, ok := m.snapshots[documentID]
	if !ok {
		return nil, nil
	}
	// Return a copy to prevent mutations
	c := s.Clone()
	return &c, nil
}

// SaveSnapshot stores a copy of snap.
func (m *MemoryStore) SaveSnapshot(ctx context.Context, documentID string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.snapshots[documentID] = snap.Clone()
	return nil
}

// Close drops all snapshots.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.snapshots = nil
	return nil
}

// Count returns the number of stored documents.
// This is for monitoring/testing purposes.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
