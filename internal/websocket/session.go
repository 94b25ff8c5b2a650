package websocket

import (
	"sync"
	"time"
)

// Session is the per-connection state of one gateway connection.
type Session struct {
	ID          string
	UserID      uint
	Username    string
	ConnectedAt time.Time

	// rooms is guarded by the registry lock.
	rooms map[uint]struct{}
}

// registry indexes live connections by id, by user and by joined room.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Client
	users map[uint]map[string]*Client
	rooms map[uint]map[string]*Client
}

func newRegistry() *registry {
	return &registry{
		conns: make(map[string]*Client),
		users: make(map[uint]map[string]*Client),
		rooms: make(map[uint]map[string]*Client),
	}
}

func (r *registry) add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.session.ID] = c
}

// bindUser records c under its authenticated user.
func (r *registry) bindUser(c *Client, userID uint, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.session.UserID = userID
	c.session.Username = username
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]*Client)
		r.users[userID] = set
	}
	set[c.session.ID] = c
}

// remove drops c everywhere and returns the rooms it was in.
func (r *registry) remove(c *Client) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.session.ID]; !ok {
		return nil
	}
	delete(r.conns, c.session.ID)
	if set, ok := r.users[c.session.UserID]; ok {
		delete(set, c.session.ID)
		if len(set) == 0 {
			delete(r.users, c.session.UserID)
		}
	}
	rooms := make([]uint, 0, len(c.session.rooms))
	for roomID := range c.session.rooms {
		r.leaveLocked(c, roomID)
		rooms = append(rooms, roomID)
	}
	return rooms
}

// join adds c to roomID. first reports whether c is the user's only
// connection in the room afterwards.
func (r *registry) join(c *Client, roomID uint) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := c.session.rooms[roomID]; ok {
		return false
	}
	first = !r.userInRoomLocked(c.session.UserID, roomID)
	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[string]*Client)
		r.rooms[roomID] = set
	}
	set[c.session.ID] = c
	c.session.rooms[roomID] = struct{}{}
	return first
}

// leave removes c from roomID. last reports whether the user has no other
// connection left in the room.
func (r *registry) leave(c *Client, roomID uint) (joined, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := c.session.rooms[roomID]; !ok {
		return false, false
	}
	r.leaveLocked(c, roomID)
	return true, !r.userInRoomLocked(c.session.UserID, roomID)
}

func (r *registry) leaveLocked(c *Client, roomID uint) {
	delete(c.session.rooms, roomID)
	if set, ok := r.rooms[roomID]; ok {
		delete(set, c.session.ID)
		if len(set) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

func (r *registry) userInRoomLocked(userID, roomID uint) bool {
	for _, c := range r.rooms[roomID] {
		if c.session.UserID == userID {
			return true
		}
	}
	return false
}

func (r *registry) inRoom(c *Client, roomID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := c.session.rooms[roomID]
	return ok
}

func (r *registry) userInRoom(userID, roomID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userInRoomLocked(userID, roomID)
}

func (r *registry) roomClients(roomID uint) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		out = append(out, c)
	}
	return out
}

func (r *registry) userClients(userID uint) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.users[userID]))
	for _, c := range r.users[userID] {
		out = append(out, c)
	}
	return out
}

// onlineUsers lists the distinct users connected to roomID.
func (r *registry) onlineUsers(roomID uint) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uint]struct{})
	out := make([]uint, 0)
	for _, c := range r.rooms[roomID] {
		if _, ok := seen[c.session.UserID]; ok {
			continue
		}
		seen[c.session.UserID] = struct{}{}
		out = append(out, c.session.UserID)
	}
	return out
}

func (r *registry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
