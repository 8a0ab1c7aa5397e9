// Package server implements the session registry, the in-memory mapping from
// connection identifiers to participant identities.
package server

import "sync"

// Registry maps connection IDs to the participant identity announced at join
// time. Entries exist only while the owning connection is live: they are
// created by a join event and removed exactly once, on disconnect. The hub
// owns the registry and is the only writer; the mutex exists because the
// presence query endpoint snapshots it from HTTP handler goroutines.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Participant
	order   []string
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Participant),
	}
}

// Put inserts or overwrites the identity for a connection. Duplicate
// usernames across connections are permitted; an overwrite keeps the
// connection's original insertion position.
func (r *Registry) Put(connID string, p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.entries[connID] = p
}

// Get returns the participant recorded for a connection. The second return
// value is false when no join was ever received, e.g. a disconnect that fired
// before a join.
func (r *Registry) Get(connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.entries[connID]
	return p, ok
}

// Remove deletes the entry for a connection. Removing an absent connection is
// a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[connID]; !exists {
		return
	}
	delete(r.entries, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// List returns a snapshot of all current participants in insertion order.
// The snapshot is never nil so the presence endpoint serializes an empty
// JSON array rather than null.
func (r *Registry) List() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		participants = append(participants, r.entries[id])
	}
	return participants
}

// Len reports the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
