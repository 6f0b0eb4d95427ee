package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is a process-local cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[uuid.UUID]Entry)}
}

var _ Cache = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, playerID uuid.UUID) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[playerID]
	return e, ok, nil
}

func (m *Memory) Set(_ context.Context, playerID uuid.UUID, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[playerID] = entry
	return nil
}

func (m *Memory) Delete(_ context.Context, playerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, playerID)
	return nil
}

// Len returns the number of cached players.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
