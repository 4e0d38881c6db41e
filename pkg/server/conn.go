package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// ConnState is the lifecycle stage of a client connection
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAwaitingHello
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrConnClosed = errors.New("connection closed")
	ErrOutboxFull = errors.New("outbox full")
)

// Conn is one client connection. Outbound packets are queued on a bounded
// outbox and written by a dedicated goroutine, so Send never blocks.
type Conn struct {
	ID          uuid.UUID
	Transport   string
	ConnectedAt time.Time

	raw          net.Conn
	metrics      *Metrics
	limiter      *rate.Limiter
	writeTimeout time.Duration

	state atomic.Int32

	// requests posted to the reactor and not yet handled
	inflight  atomic.Int32
	highWater int
	progress  chan struct{} // signalled when the writer or the reactor makes room
	done      chan struct{} // closed on shutdown

	mu       sync.Mutex // protects everything below
	log      zerolog.Logger
	username string
	closed   bool
	outbox   chan []byte
}

func newConn(raw net.Conn, transport string, cfg ServerConfig, metrics *Metrics, logger zerolog.Logger) *Conn {
	id := uuid.New()
	size := max(cfg.OutboxSize, 1)
	c := &Conn{
		ID:           id,
		Transport:    transport,
		ConnectedAt:  time.Now(),
		raw:          raw,
		metrics:      metrics,
		writeTimeout: cfg.WriteTimeout,
		highWater:    max(size/2, 1),
		progress:     make(chan struct{}, 1),
		done:         make(chan struct{}),
		outbox:       make(chan []byte, size),
		log: logger.With().
			Str("conn", id.String()).
			Str("remote", raw.RemoteAddr().String()).
			Str("transport", transport).
			Logger(),
	}
	if cfg.PacketRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.PacketRate), max(cfg.PacketBurst, 1))
	}
	c.setState(StateConnecting)
	return c
}

// State returns the connection's lifecycle stage
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(s ConnState) {
	c.state.Store(int32(s))
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Username returns the registered name, or "" before registration
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Conn) setUsername(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
	c.log = c.log.With().Str("user", name).Logger()
}

func (c *Conn) logger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.log
	return &l
}

// Send encodes p and queues it for the writer.
// Returns ErrConnClosed after shutdown and ErrOutboxFull when the peer is not keeping up.
func (c *Conn) Send(p protocol.Packet) error {
	data, err := protocol.Marshal(p)
	if err != nil {
		return err
	}
	return c.sendEncoded(p.Opcode(), data)
}

// sendEncoded queues an already marshalled packet, so a fan-out encodes once
func (c *Conn) sendEncoded(op protocol.Opcode, data []byte) error {
	if err := c.enqueue(data); err != nil {
		return err
	}

	c.metrics.RecordPacketSent(op)
	c.logger().Debug().
		Str("op", op.String()).
		Int("len", len(data)-protocol.HeaderLength).
		Msg("send")
	return nil
}

// waitForRoom blocks the reader while the replies its pending requests may
// produce, plus what is already queued, would pass the outbox high-water mark.
// A peer that stops reading is cut off by the writer's deadline, which closes
// the connection and releases the wait. Returns false once shut down.
func (c *Conn) waitForRoom() bool {
	for int(c.inflight.Load())+len(c.outbox) >= c.highWater {
		select {
		case <-c.progress:
		case <-c.done:
			return false
		}
	}
	return true
}

// requestPosted counts a packet handed to the reactor
func (c *Conn) requestPosted() {
	c.inflight.Add(1)
}

// requestHandled is called by the reactor once a posted packet was dispatched
func (c *Conn) requestHandled() {
	c.inflight.Add(-1)
	c.signalProgress()
}

func (c *Conn) signalProgress() {
	select {
	case c.progress <- struct{}{}:
	default:
	}
}

func (c *Conn) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.outbox <- data:
		return nil
	default:
		c.metrics.RecordPacketDropped("outbox_full")
		return ErrOutboxFull
	}
}

// shutdown stops accepting packets, optionally queueing one final packet.
// Returns false if the connection was already shut down.
func (c *Conn) shutdown(final []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	if final != nil {
		select {
		case c.outbox <- final:
		default:
		}
	}
	close(c.outbox)
	close(c.done)
	c.setState(StateClosed)
	return true
}

// Close drops anything still queued and closes the transport immediately.
// Safe to call more than once.
func (c *Conn) Close() error {
	if !c.shutdown(nil) {
		return nil
	}
	return c.raw.Close()
}

// CloseWithError queues Err(code) behind any pending packets; the writer
// closes the transport once the outbox drains.
func (c *Conn) CloseWithError(code protocol.ErrorCode) {
	data, err := protocol.Marshal(&protocol.ErrPacket{Code: code})
	if err != nil {
		data = nil
	}
	if c.shutdown(data) {
		c.metrics.RecordProtocolError(code)
		c.logger().Warn().Str("code", code.String()).Msg("closing with error")
	}
}

// writeLoop drains the outbox until shutdown. After the first write failure the
// transport is closed, which also unblocks the reader, and remaining packets are discarded.
func (c *Conn) writeLoop() {
	failed := false
	for data := range c.outbox {
		if !failed {
			if c.writeTimeout > 0 {
				_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if _, err := c.raw.Write(data); err != nil {
				c.logger().Debug().Err(err).Msg("write failed")
				failed = true
				_ = c.raw.Close()
			}
		}
		c.signalProgress()
	}
	_ = c.raw.Close()
}

// readPacket waits up to idle (zero means forever) for the first byte of a packet,
// then allows timeout for the rest of it to arrive.
func (c *Conn) readPacket(idle, timeout time.Duration) (protocol.Packet, error) {
	var deadline time.Time
	if idle > 0 {
		deadline = time.Now().Add(idle)
	}
	if err := c.raw.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	first := make([]byte, 1)
	if _, err := io.ReadFull(c.raw, first); err != nil {
		return nil, err
	}

	if timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	p, err := protocol.ReadPacket(io.MultiReader(bytes.NewReader(first), c.raw))
	if err != nil {
		return nil, err
	}

	c.metrics.RecordPacketReceived(p.Opcode())
	c.logger().Debug().Str("op", p.Opcode().String()).Msg("recv")
	return p, nil
}

// readHello reads the first packet within timeout; anything but a Hello is ILLEGAL_OPCODE
func (c *Conn) readHello(timeout time.Duration) (*protocol.HelloPacket, error) {
	if timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	p, err := protocol.ReadPacket(c.raw)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordPacketReceived(p.Opcode())

	hello, ok := p.(*protocol.HelloPacket)
	if !ok {
		return nil, &protocol.Error{
			Code:   protocol.CodeIllegalOpcode,
			Detail: fmt.Sprintf("expected %s, got %s", protocol.OpHello, p.Opcode()),
		}
	}
	return hello, nil
}

// allow applies the inbound rate limit. Keepalives are never limited.
func (c *Conn) allow(p protocol.Packet) bool {
	if c.limiter == nil || p.Opcode() == protocol.OpKeepalive {
		return true
	}
	if c.limiter.Allow() {
		return true
	}
	c.metrics.RecordPacketDropped("rate_limited")
	return false
}
