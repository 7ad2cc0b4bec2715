// Package presence tracks which live connections are subscribed to which
// rooms. It is a runtime-only broadcast cache: it is rebuilt from reconnect
// events and is never consulted for authorization, because durable
// membership in the data store is the only authority for that.
package presence

import (
	"errors"
	"sync"
)

// ErrConnectionUnregistered is returned for operations against a connection
// that was never registered or has already been torn down.
var ErrConnectionUnregistered = errors.New("connection not registered")

// Conn is the transport connection handle the registry tracks. The registry
// never sends on it; the transport layer performs all network writes.
type Conn interface {
	// Send queues an encoded event for delivery. Best-effort.
	Send(event any) error
	// Close tears the connection down.
	Close() error
}

type entry struct {
	uid   string
	rooms map[string]bool // roomID set
}

// Registry maps live connections to their user identity and subscribed
// rooms, and rooms to the connections that must receive broadcasts.
// The broadcast path is read-heavy, so a RWMutex guards both maps.
type Registry struct {
	mu    sync.RWMutex
	conns map[Conn]*entry
	rooms map[string]map[Conn]bool // roomID -> set of connections
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[Conn]*entry),
		rooms: make(map[string]map[Conn]bool),
	}
}

// Register binds a connection to a user identity for its lifetime.
// Registering an already-known connection rebinds it and clears its
// subscriptions.
func (r *Registry) Register(conn Conn, uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[conn]; ok {
		for roomID := range old.rooms {
			r.dropLocked(conn, roomID)
		}
	}
	r.conns[conn] = &entry{uid: uid, rooms: make(map[string]bool)}
}

// UID returns the user identity bound to the connection.
func (r *Registry) UID(conn Conn) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[conn]
	if !ok {
		return "", ErrConnectionUnregistered
	}
	return e.uid, nil
}

// Subscribe adds a live subscription for the room.
func (r *Registry) Subscribe(conn Conn, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn]
	if !ok {
		return ErrConnectionUnregistered
	}
	e.rooms[roomID] = true

	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[Conn]bool)
		r.rooms[roomID] = set
	}
	set[conn] = true
	return nil
}

// Unsubscribe removes a live subscription for the room.
func (r *Registry) Unsubscribe(conn Conn, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn]
	if !ok {
		return ErrConnectionUnregistered
	}
	delete(e.rooms, roomID)
	r.dropLocked(conn, roomID)
	return nil
}

// ConnectionsForRoom returns every connection subscribed to the room.
func (r *Registry) ConnectionsForRoom(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[roomID]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Rooms returns the rooms the connection is currently subscribed to.
func (r *Registry) Rooms(conn Conn) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[conn]
	if !ok {
		return nil, ErrConnectionUnregistered
	}
	rooms := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms, nil
}

// Teardown atomically removes every subscription for the connection and the
// connection itself, returning the rooms it was subscribed to so the caller
// can emit departure notifications. Tearing down an unknown connection
// returns nil; disconnect cleanup must be idempotent.
func (r *Registry) Teardown(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[conn]
	if !ok {
		return nil
	}

	rooms := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		rooms = append(rooms, roomID)
		r.dropLocked(conn, roomID)
	}
	delete(r.conns, conn)
	return rooms
}

// ConnsForUID returns every live connection bound to the uid. A user may be
// connected from several devices at once.
func (r *Registry) ConnsForUID(uid string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []Conn
	for c, e := range r.conns {
		if e.uid == uid {
			conns = append(conns, c)
		}
	}
	return conns
}

// ConnectionCount returns the number of live connections, for metrics.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// dropLocked removes conn from a room's broadcast set. Caller holds mu.
func (r *Registry) dropLocked(conn Conn, roomID string) {
	set, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.rooms, roomID)
	}
}
