package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperdash/streamhub"
)

// Registry tracks every live connection and the rooms it has joined.
//
// It maintains both sides of the subscription relation (room -> connection
// ids and connection id -> rooms) and mutates them inside a single critical
// section, so a reader can never observe a connection present on one side
// and absent from the other. A room key exists iff the room has at least one
// member; the last leave deletes the key.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]streamhub.Connection
	rooms  map[string]map[string]struct{} // room -> set of connection ids
	joined map[string]map[string]struct{} // connection id -> set of rooms

	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:  make(map[string]streamhub.Connection),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
		logger: logger.With(zap.String("component", "registry")),
	}
}

// Register stores a new connection with an empty room set. Registering the
// same id twice is a caller error, fatal to that registration attempt only.
func (r *Registry) Register(conn streamhub.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, exists := r.conns[id]; exists {
		return fmt.Errorf("%s: %s", streamhub.ErrDuplicateConnection, id)
	}

	r.conns[id] = conn
	r.joined[id] = make(map[string]struct{})

	r.logger.Debug("connection registered",
		zap.String("connection_id", id),
		zap.String("user_id", conn.UserID()),
	)
	return nil
}

// Unregister removes the connection after removing it from every room it
// belonged to. Idempotent: unregistering an unknown id is a no-op, because
// disconnect handlers may race.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; !exists {
		return
	}

	for room := range r.joined[id] {
		r.removeMember(room, id)
	}
	delete(r.joined, id)
	delete(r.conns, id)

	r.logger.Debug("connection unregistered", zap.String("connection_id", id))
}

// Get looks up a connection by id. Absence is a normal, expected outcome
// (e.g., a message arriving after disconnect), never an error.
func (r *Registry) Get(id string) (streamhub.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// Join adds the connection to room, creating the room entry if absent.
// No-op if already joined. Returns false if the connection is not
// registered.
func (r *Registry) Join(room, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.joined[id]
	if !ok {
		return false
	}

	if _, exists := rooms[room]; exists {
		return true
	}

	members, exists := r.rooms[room]
	if !exists {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[id] = struct{}{}
	rooms[room] = struct{}{}
	return true
}

// Leave removes the connection from room; if the member set becomes empty
// the room entry is deleted entirely. No-op if not joined.
func (r *Registry) Leave(room, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.joined[id]
	if !ok {
		return
	}
	delete(rooms, room)
	r.removeMember(room, id)
}

// removeMember drops id from the room-side map, deleting the room when its
// last member leaves. Caller must hold the write lock.
func (r *Registry) removeMember(room, id string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MembersOf resolves the connections subscribed to room at the instant of
// the call. Returns an empty slice (not an error) if the room has no
// members or does not exist.
//
// A member id without a matching connection entry would violate the
// atomicity contract; if one is ever observed it is logged loudly and
// removed so routing can proceed.
func (r *Registry) MembersOf(room string) []streamhub.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}

	conns := make([]streamhub.Connection, 0, len(members))
	for id := range members {
		conn, exists := r.conns[id]
		if !exists {
			r.logger.Error("registry inconsistency: room member has no connection entry",
				zap.String("room", room),
				zap.String("connection_id", id),
			)
			r.removeMember(room, id)
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

// RoomsOf returns the sorted room names the connection has joined, for
// cleanup and introspection.
func (r *Registry) RoomsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined, ok := r.joined[id]
	if !ok {
		return nil
	}

	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Connections returns every registered connection.
func (r *Registry) Connections() []streamhub.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]streamhub.Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Details returns per-connection detail (id, owning user, joined rooms)
// sorted by connection id, for the operational snapshot.
func (r *Registry) Details() []streamhub.ConnectionDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()

	details := make([]streamhub.ConnectionDetail, 0, len(r.conns))
	for id, conn := range r.conns {
		rooms := make([]string, 0, len(r.joined[id]))
		for room := range r.joined[id] {
			rooms = append(rooms, room)
		}
		sort.Strings(rooms)
		details = append(details, streamhub.ConnectionDetail{
			ID:     id,
			UserID: conn.UserID(),
			Rooms:  rooms,
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })
	return details
}

// Clear drops every connection and room entry. Used by server shutdown
// after all transports are closed.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns = make(map[string]streamhub.Connection)
	r.rooms = make(map[string]map[string]struct{})
	r.joined = make(map[string]map[string]struct{})
}
