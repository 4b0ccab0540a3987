// Package registry tracks which users are currently connected and on which
// connections. It is the authoritative mapping from user identity to live
// connections; multiple simultaneous connections per user are always allowed.
package registry

import (
	"log"
	"sync"
)

// Conn is the minimal connection surface the registry and dispatcher need.
// The ws package provides the concrete implementation.
type Conn interface {
	// ID returns the opaque connection identifier (unique per socket,
	// never reused after the connection is destroyed).
	ID() string

	// UserID returns the authenticated identity bound at handshake time.
	UserID() string

	// Enqueue offers serialized event bytes to the connection's outbound
	// queue without blocking. It reports false if the bytes were dropped
	// (queue full or connection closed).
	Enqueue(data []byte) bool
}

// Hooks are invoked on connection-set changes, outside the registry lock,
// so the handlers may dispatch events or touch other registries freely.
type Hooks struct {
	// ConnectionOpened fires after a connection is registered.
	ConnectionOpened func(userID, connID string)

	// ConnectionClosed fires after a connection is unregistered. It does
	// not fire for unregister calls on unknown connections.
	ConnectionClosed func(userID, connID string)
}

// Registry is a goroutine-safe user/connection index. Reads vastly outnumber
// writes (every fan-out reads, only connect/disconnect writes), so it uses a
// reader-writer lock with snapshot-returning accessors.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]Conn            // conn_id -> connection
	byUser map[string]map[string]Conn // user_id -> conn_id -> connection
	hooks  Hooks
}

// New creates an empty Registry with the given lifecycle hooks.
func New(hooks Hooks) *Registry {
	return &Registry{
		byConn: make(map[string]Conn),
		byUser: make(map[string]map[string]Conn),
		hooks:  hooks,
	}
}

// Register binds a connection to its user. It never rejects: a user may hold
// any number of simultaneous connections (multi-device).
func (r *Registry) Register(c Conn) {
	userID, connID := c.UserID(), c.ID()

	r.mu.Lock()
	r.byConn[connID] = c
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	conns[connID] = c
	total := len(r.byConn)
	r.mu.Unlock()

	log.Printf("registry: registered conn=%s user=%s (total=%d)", connID, userID, total)

	if r.hooks.ConnectionOpened != nil {
		r.hooks.ConnectionOpened(userID, connID)
	}
}

// Unregister removes a connection. It is idempotent: a second call for the
// same connection reports false and has no side effects.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	c, ok := r.byConn[connID]
	var userID string
	if ok {
		userID = c.UserID()
		delete(r.byConn, connID)
		if conns := r.byUser[userID]; conns != nil {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.byUser, userID)
			}
		}
	}
	total := len(r.byConn)
	r.mu.Unlock()

	if !ok {
		return false
	}

	log.Printf("registry: unregistered conn=%s user=%s (total=%d)", connID, userID, total)

	if r.hooks.ConnectionClosed != nil {
		r.hooks.ConnectionClosed(userID, connID)
	}
	return true
}

// ConnectionsFor returns a snapshot of the user's live connections. The
// snapshot may be stale by the time the caller uses it; delivery to a
// since-closed connection is silently dropped by the dispatcher.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	conns := r.byUser[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	return out
}

// Get returns the connection with the given id, or nil if unknown.
func (r *Registry) Get(connID string) Conn {
	r.mu.RLock()
	c := r.byConn[connID]
	r.mu.RUnlock()
	return c
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byConn)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	out := make([]Conn, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	r.mu.RUnlock()
	return out
}
