package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// Room is a named fan-out group. Members are references to users owned by the
// SessionRegistry. Rooms are never deleted, even when empty.
type Room struct {
	Name      string
	CreatedAt time.Time
	members   []*User
}

func (r *Room) indexOf(u *User) int {
	for i, m := range r.members {
		if m == u {
			return i
		}
	}
	return -1
}

func (r *Room) remove(u *User) bool {
	i := r.indexOf(u)
	if i < 0 {
		return false
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	return true
}

// RoomRegistry tracks rooms and their membership in creation order
type RoomRegistry struct {
	rooms    map[string]*Room
	order    []*Room
	maxRooms int
	mu       sync.RWMutex
	metrics  *Metrics
}

// NewRoomRegistry creates a registry. maxRooms <= 0 means unlimited.
func NewRoomRegistry(maxRooms int, metrics *Metrics) *RoomRegistry {
	return &RoomRegistry{
		rooms:    make(map[string]*Room),
		maxRooms: maxRooms,
		metrics:  metrics,
	}
}

// Join adds u to the named room, creating it if needed. Joining twice is a no-op.
// created reports whether the room did not exist before.
func (rr *RoomRegistry) Join(u *User, name string) (created bool, err error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[name]
	if !ok {
		if rr.maxRooms > 0 && len(rr.order) >= rr.maxRooms {
			return false, &protocol.Error{Code: protocol.CodeTooManyRooms, Detail: fmt.Sprintf("limit %d", rr.maxRooms)}
		}
		room = &Room{Name: name, CreatedAt: time.Now()}
		rr.rooms[name] = room
		rr.order = append(rr.order, room)
		created = true
		rr.metrics.RecordRooms(len(rr.order))
	}

	if room.indexOf(u) < 0 {
		room.members = append(room.members, u)
	}
	return created, nil
}

// Leave removes u from the named room, or from every room when name is "".
// Leaving a room you are not in, or one that does not exist, is a no-op.
func (rr *RoomRegistry) Leave(u *User, name string) {
	if name == "" {
		rr.RemoveUserEverywhere(u)
		return
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	if room, ok := rr.rooms[name]; ok {
		room.remove(u)
	}
}

// RemoveUserEverywhere drops u from every room; used on disconnect
func (rr *RoomRegistry) RemoveUserEverywhere(u *User) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	for _, room := range rr.order {
		room.remove(u)
	}
}

// List returns every room name in creation order
func (rr *RoomRegistry) List() []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	names := make([]string, len(rr.order))
	for i, room := range rr.order {
		names[i] = room.Name
	}
	return names
}

// Members returns a snapshot of the room's members in join order, or nil if the room is unknown
func (rr *RoomRegistry) Members(name string) []*User {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	room, ok := rr.rooms[name]
	if !ok {
		return nil
	}
	members := make([]*User, len(room.members))
	copy(members, room.members)
	return members
}

// Usernames returns the names of the room's members, empty if the room is unknown
func (rr *RoomRegistry) Usernames(name string) []string {
	members := rr.Members(name)
	names := make([]string, len(members))
	for i, u := range members {
		names[i] = u.Name
	}
	return names
}

// RoomsOf returns the rooms u belongs to, in creation order
func (rr *RoomRegistry) RoomsOf(u *User) []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	var names []string
	for _, room := range rr.order {
		if room.indexOf(u) >= 0 {
			names = append(names, room.Name)
		}
	}
	return names
}

// Exists reports whether a room with this name has been created
func (rr *RoomRegistry) Exists(name string) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	_, ok := rr.rooms[name]
	return ok
}

// Count returns the number of rooms
func (rr *RoomRegistry) Count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return len(rr.order)
}

// Snapshot returns every room with its member count, in creation order
func (rr *RoomRegistry) Snapshot() []RoomInfo {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	infos := make([]RoomInfo, len(rr.order))
	for i, room := range rr.order {
		infos[i] = RoomInfo{
			Name:      room.Name,
			Members:   len(room.members),
			CreatedAt: room.CreatedAt,
		}
	}
	return infos
}
