// Package session keeps track of which players currently have an open
// playtime session and serializes the work done on their behalf.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle pairs a connected player with the session row currently open for them.
type Handle struct {
	PlayerID    uuid.UUID `json:"player_id"`
	SessionID   int64     `json:"session_id"`
	Server      string    `json:"server,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
}

// Registry is the in-memory table of open sessions, keyed by player.
// It is not persisted; a fresh process starts with an empty registry.
type Registry struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[uuid.UUID]Handle)}
}

// Put records h as the player's open session, replacing any prior mapping.
// The replaced handle, if any, is returned.
func (r *Registry) Put(h Handle) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.handles[h.PlayerID]
	r.handles[h.PlayerID] = h
	return prev, existed
}

// Get returns the player's open session handle.
func (r *Registry) Get(playerID uuid.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[playerID]
	return h, ok
}

// Remove drops the player's entry and returns it.
func (r *Registry) Remove(playerID uuid.UUID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[playerID]
	if ok {
		delete(r.handles, playerID)
	}
	return h, ok
}

// RemoveIf drops the player's entry only if it still points at sessionID.
func (r *Registry) RemoveIf(playerID uuid.UUID, sessionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[playerID]
	if !ok || h.SessionID != sessionID {
		return false
	}
	delete(r.handles, playerID)
	return true
}

// HasOpen reports whether the player has an open session.
func (r *Registry) HasOpen(playerID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[playerID]
	return ok
}

// AllOpenPlayerIDs returns a snapshot of the players with an open session.
// The slice is safe to iterate while the registry keeps changing.
func (r *Registry) AllOpenPlayerIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a copy of every handle, oldest session first.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].OpenedAt.Equal(handles[j].OpenedAt) {
			return handles[i].SessionID < handles[j].SessionID
		}
		return handles[i].OpenedAt.Before(handles[j].OpenedAt)
	})
	return handles
}

// Count returns the number of players with an open session.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Reset forgets every entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = make(map[uuid.UUID]Handle)
}
