package realtime

import (
	"sync"

	"huddle/internal/observability"
)

// Registry tracks live connections and their room subscriptions. It is
// process-local state owned by a single gateway instance; nothing in it is
// ever persisted or shared across processes. All methods are safe for
// concurrent use and idempotent, so two connections of the same user racing
// join/leave self-heal.
type Registry struct {
	mu sync.RWMutex

	// room -> subscribed clients
	rooms map[Room]map[*Client]struct{}

	// client -> rooms it has joined
	clientRooms map[*Client]map[Room]struct{}

	// userID -> live clients (multi-device)
	userConns map[uint]map[*Client]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[Room]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[Room]struct{}),
		userConns:   make(map[uint]map[*Client]struct{}),
	}
}

// Register adds a connection.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.userConns[c.UserID] == nil {
		r.userConns[c.UserID] = make(map[*Client]struct{})
	}
	if _, ok := r.userConns[c.UserID][c]; ok {
		return
	}
	r.userConns[c.UserID][c] = struct{}{}
	r.clientRooms[c] = make(map[Room]struct{})
	observability.ActiveConnections.Inc()
}

// Unregister removes a connection from every room and from the user's
// connection set. It returns the rooms the connection occupied and whether
// it was the user's last connection. Safe to call twice; the second call
// returns nothing.
func (r *Registry) Unregister(c *Client) (rooms []Room, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.userConns[c.UserID]
	if !ok {
		return nil, false
	}
	if _, ok := conns[c]; !ok {
		return nil, false
	}

	delete(conns, c)
	if len(conns) == 0 {
		delete(r.userConns, c.UserID)
		last = true
	}

	for room := range r.clientRooms[c] {
		rooms = append(rooms, room)
		r.removeFromRoom(c, room)
	}
	delete(r.clientRooms, c)
	observability.ActiveConnections.Dec()
	return rooms, last
}

// Join subscribes a connection to a room. Joining twice is a no-op.
func (r *Registry) Join(c *Client, room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	memberships, ok := r.clientRooms[c]
	if !ok {
		// Not registered (already disconnected); never resurrect state.
		return
	}
	if _, joined := memberships[room]; joined {
		return
	}

	memberships[room] = struct{}{}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Client]struct{})
	}
	r.rooms[room][c] = struct{}{}
	observability.RoomSubscriptions.WithLabelValues(room.Kind()).Inc()
}

// Leave unsubscribes a connection from a room. Always succeeds, even if not joined.
func (r *Registry) Leave(c *Client, room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	memberships, ok := r.clientRooms[c]
	if !ok {
		return
	}
	if _, joined := memberships[room]; !joined {
		return
	}
	delete(memberships, room)
	r.removeFromRoom(c, room)
}

// removeFromRoom must be called with the lock held.
func (r *Registry) removeFromRoom(c *Client, room Room) {
	clients, ok := r.rooms[room]
	if !ok {
		return
	}
	if _, in := clients[c]; !in {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(r.rooms, room)
	}
	observability.RoomSubscriptions.WithLabelValues(room.Kind()).Dec()
}

// InRoom reports whether a connection is subscribed to a room.
func (r *Registry) InRoom(c *Client, room Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships, ok := r.clientRooms[c]
	if !ok {
		return false
	}
	_, joined := memberships[room]
	return joined
}

// ClientRooms returns the rooms a connection currently occupies.
func (r *Registry) ClientRooms(c *Client) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := r.clientRooms[c]
	rooms := make([]Room, 0, len(memberships))
	for room := range memberships {
		rooms = append(rooms, room)
	}
	return rooms
}

// UserRooms returns the union of rooms occupied by any of the user's connections.
func (r *Registry) UserRooms(userID uint) []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Room]struct{})
	for c := range r.userConns[userID] {
		for room := range r.clientRooms[c] {
			seen[room] = struct{}{}
		}
	}
	rooms := make([]Room, 0, len(seen))
	for room := range seen {
		rooms = append(rooms, room)
	}
	return rooms
}

// IsUserConnected reports whether the user has at least one live connection.
func (r *Registry) IsUserConnected(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

// RoomUserIDs returns the distinct users present in a room.
func (r *Registry) RoomUserIDs(room Room) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uint]struct{})
	for c := range r.rooms[room] {
		seen[c.UserID] = struct{}{}
	}
	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast delivers data to every connection in the room, skipping
// connections of the excluded users. Delivery is best-effort: a slow
// consumer drops frames rather than blocking the room. Returns the number
// of connections targeted.
func (r *Registry) Broadcast(room Room, data []byte, exclude ...uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skip := make(map[uint]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	n := 0
	for c := range r.rooms[room] {
		if _, excluded := skip[c.UserID]; excluded {
			continue
		}
		c.TrySend(data)
		n++
	}
	return n
}
