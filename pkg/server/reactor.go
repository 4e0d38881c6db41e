package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/chatroom/pkg/protocol"
)

var (
	// ErrReactorStopped is returned to connections that try to register during shutdown
	ErrReactorStopped = errors.New("reactor stopped")

	errPeerError      = errors.New("peer sent Err")
	errServerShutdown = errors.New("server shutting down")
)

// event is something a connection goroutine hands to the reactor
type event interface {
	connection() *Conn
}

type registerRequest struct {
	conn     *Conn
	username string
	reply    chan error
}

type packetEvent struct {
	conn   *Conn
	packet protocol.Packet
}

type closeEvent struct {
	conn *Conn
	err  error
}

func (e packetEvent) connection() *Conn { return e.conn }
func (e closeEvent) connection() *Conn  { return e.conn }

// Reactor is the single goroutine that owns every registry mutation.
// Connection readers only decode and post events; the keepalive ticker is
// multiplexed into the same loop.
type Reactor struct {
	sessions  *SessionRegistry
	rooms     *RoomRegistry
	router    *Router
	keepalive *KeepaliveMonitor
	metrics   *Metrics
	log       zerolog.Logger

	register chan registerRequest
	events   chan event
	done     chan struct{}
}

// NewReactor wires the registries, router and keepalive monitor together
func NewReactor(config ServerConfig, metrics *Metrics, logger zerolog.Logger) *Reactor {
	r := &Reactor{
		sessions: NewSessionRegistry(config.MaxUsers, metrics),
		rooms:    NewRoomRegistry(config.MaxRooms, metrics),
		metrics:  metrics,
		log:      logger,
		register: make(chan registerRequest),
		events:   make(chan event, 256),
		done:     make(chan struct{}),
	}
	r.router = NewRouter(r.sessions, r.rooms, metrics, logger, r.disconnect)
	r.keepalive = NewKeepaliveMonitor(config.KeepaliveInterval, r.sessions, r.disconnect)
	return r
}

// Sessions returns the session registry
func (r *Reactor) Sessions() *SessionRegistry { return r.sessions }

// Rooms returns the room registry
func (r *Reactor) Rooms() *RoomRegistry { return r.rooms }

// Run processes events until ctx is cancelled, then closes every registered connection
func (r *Reactor) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.keepalive.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case req := <-r.register:
			req.reply <- r.handleRegister(req.conn, req.username)
		case ev := <-r.events:
			r.handleEvent(ev)
		case <-ticker.C:
			if pruned := r.keepalive.Tick(); pruned > 0 {
				r.log.Debug().Int("pruned", pruned).Msg("keepalive pruned connections")
			}
		}
	}
}

// Register asks the reactor to register conn under username and waits for the answer
func (r *Reactor) Register(conn *Conn, username string) error {
	req := registerRequest{conn: conn, username: username, reply: make(chan error, 1)}
	select {
	case r.register <- req:
	case <-r.done:
		return ErrReactorStopped
	}
	return <-req.reply
}

// post hands an event to the reactor. Returns false once the reactor has stopped.
func (r *Reactor) post(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reactor) handleRegister(conn *Conn, username string) error {
	if _, err := r.sessions.Register(username, conn); err != nil {
		return err
	}
	conn.setUsername(username)
	conn.setState(StateActive)
	conn.logger().Info().Msg("registered")
	return nil
}

func (r *Reactor) handleEvent(ev event) {
	switch ev := ev.(type) {
	case packetEvent:
		defer ev.conn.requestHandled()
		u, ok := r.sessions.Lookup(ev.conn.ID)
		if !ok {
			// already cleaned up; late packets are discarded
			return
		}
		if err := r.dispatch(u, ev.packet); err != nil {
			r.disconnect(u.Conn, err)
		}
	case closeEvent:
		r.disconnect(ev.conn, ev.err)
	}
}

// disconnect closes c and removes it from every registry. Protocol errors are
// reported to the peer with an Err packet first; anything else closes silently.
// Safe to call for connections that are already gone.
func (r *Reactor) disconnect(c *Conn, cause error) {
	if protocol.IsProtocolError(cause) {
		c.CloseWithError(protocol.CodeOf(cause))
	} else {
		c.Close()
	}

	u := r.sessions.Unregister(c.ID)
	if u == nil {
		return
	}
	r.rooms.RemoveUserEverywhere(u)

	reason := disconnectReason(cause)
	r.metrics.RecordDisconnect(reason)
	entry := c.logger().Info()
	if cause != nil && !errors.Is(cause, io.EOF) {
		entry = entry.AnErr("cause", cause)
	}
	entry.Str("reason", reason).Msg("disconnected")
}

func (r *Reactor) closeAll() {
	for _, u := range r.sessions.All() {
		r.disconnect(u.Conn, errServerShutdown)
	}
}

// disconnectReason buckets a close cause for metrics and logs
func disconnectReason(err error) string {
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, ErrConnClosed):
		return "closed"
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, errPeerError):
		return "peer_error"
	case errors.Is(err, errServerShutdown):
		return "shutdown"
	case errors.Is(err, ErrOutboxFull):
		return "slow_consumer"
	case protocol.IsProtocolError(err):
		return "protocol_error"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "transport"
	}
}
