package core

import "sync"

// Registry tracks live connections per user for presence. The most recent
// connection wins for presence purposes; a superseded connection is not
// closed and stays subscribed to its rooms until it disconnects on its own.
type Registry struct {
	mu     sync.RWMutex
	latest map[int64]string // userID -> most recent connection id
	conns  map[string]int64 // connection id -> userID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		latest: make(map[int64]string),
		conns:  make(map[string]int64),
	}
}

// Register records the connection for its user. A newer connection
// supersedes the previous one in the presence map.
func (r *Registry) Register(userID int64, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[userID] = connID
	r.conns[connID] = userID
}

// Unregister removes the connection. Idempotent: unknown connections are a
// no-op. Presence for the user is cleared only if this connection was still
// the latest one.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	if r.latest[userID] == connID {
		delete(r.latest, userID)
	}
}

// IsOnline reports whether the user currently has a live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.latest[userID]
	return ok
}
