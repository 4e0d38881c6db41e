package server

import (
	"time"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// DefaultKeepaliveInterval is the heartbeat period of the protocol
const DefaultKeepaliveInterval = 4 * time.Second

// KeepaliveMonitor pushes a Keepalive to every registered connection on each tick.
// Ticks are delivered by the reactor, so the monitor never races registry mutations.
type KeepaliveMonitor struct {
	interval time.Duration
	sessions *SessionRegistry
	onDead   func(c *Conn, err error)
}

// NewKeepaliveMonitor creates a monitor. A non-positive interval uses the default.
func NewKeepaliveMonitor(interval time.Duration, sessions *SessionRegistry, onDead func(*Conn, error)) *KeepaliveMonitor {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	return &KeepaliveMonitor{
		interval: interval,
		sessions: sessions,
		onDead:   onDead,
	}
}

// Interval returns the tick period
func (km *KeepaliveMonitor) Interval() time.Duration {
	return km.interval
}

// Tick sends one round of keepalives and returns how many connections were pruned
func (km *KeepaliveMonitor) Tick() int {
	pruned := 0
	for _, u := range km.sessions.All() {
		if err := u.Conn.Send(&protocol.KeepalivePacket{}); err != nil {
			pruned++
			if km.onDead != nil {
				km.onDead(u.Conn, err)
			}
		}
	}
	return pruned
}
