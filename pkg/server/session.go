package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// User is a registered connection. Users are created on a successful Hello
// and destroyed on disconnect.
type User struct {
	Name         string
	Conn         *Conn
	RegisteredAt time.Time
}

// SessionRegistry tracks connected users and enforces name uniqueness.
// Only the reactor mutates it; the lock lets admin readers take snapshots.
type SessionRegistry struct {
	byConn   map[uuid.UUID]*User
	byName   map[string]*User
	order    []*User
	maxUsers int
	mu       sync.RWMutex
	metrics  *Metrics
}

// NewSessionRegistry creates a registry. maxUsers <= 0 means unlimited.
func NewSessionRegistry(maxUsers int, metrics *Metrics) *SessionRegistry {
	return &SessionRegistry{
		byConn:   make(map[uuid.UUID]*User),
		byName:   make(map[string]*User),
		maxUsers: maxUsers,
		metrics:  metrics,
	}
}

// Register creates a User for conn. Names are matched exactly against
// currently registered users only.
func (sr *SessionRegistry) Register(name string, conn *Conn) (*User, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if _, taken := sr.byName[name]; taken {
		return nil, &protocol.Error{Code: protocol.CodeNameExists, Detail: name}
	}
	if _, dup := sr.byConn[conn.ID]; dup {
		return nil, fmt.Errorf("connection %s already registered", conn.ID)
	}
	if sr.maxUsers > 0 && len(sr.order) >= sr.maxUsers {
		return nil, &protocol.Error{Code: protocol.CodeTooManyUsers, Detail: fmt.Sprintf("limit %d", sr.maxUsers)}
	}

	u := &User{Name: name, Conn: conn, RegisteredAt: time.Now()}
	sr.byConn[conn.ID] = u
	sr.byName[name] = u
	sr.order = append(sr.order, u)

	sr.metrics.RecordActiveSessions(len(sr.order))
	return u, nil
}

// Unregister removes the user owning conn and returns it, or nil if none.
// Unregistering twice is a no-op.
func (sr *SessionRegistry) Unregister(id uuid.UUID) *User {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	u, ok := sr.byConn[id]
	if !ok {
		return nil
	}
	delete(sr.byConn, id)
	delete(sr.byName, u.Name)
	for i, other := range sr.order {
		if other == u {
			sr.order = append(sr.order[:i], sr.order[i+1:]...)
			break
		}
	}

	sr.metrics.RecordActiveSessions(len(sr.order))
	return u
}

// Lookup returns the user owning a connection
func (sr *SessionRegistry) Lookup(id uuid.UUID) (*User, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	u, ok := sr.byConn[id]
	return u, ok
}

// LookupName returns the user registered under name
func (sr *SessionRegistry) LookupName(name string) (*User, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	u, ok := sr.byName[name]
	return u, ok
}

// All returns every registered user in registration order
func (sr *SessionRegistry) All() []*User {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	users := make([]*User, len(sr.order))
	copy(users, sr.order)
	return users
}

// Count returns the number of registered users
func (sr *SessionRegistry) Count() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	return len(sr.order)
}
