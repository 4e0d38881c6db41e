package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/chatroom/pkg/logging"
	"github.com/aeolun/chatroom/pkg/protocol"
)

var (
	// ErrClosed is returned by operations on a client that has been closed
	ErrClosed = errors.New("client closed")
	// ErrQueueFull is returned when the outgoing queue cannot take another packet
	ErrQueueFull = errors.New("outgoing queue full")
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultKeepaliveInterval = 4 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	incomingBuffer           = 256
	outgoingBuffer           = 100
)

// Options tunes a client connection. The zero value is usable.
type Options struct {
	// KeepaliveInterval is how often a Keepalive is sent. Zero uses the
	// protocol default; negative disables keepalives.
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	// ThrottleBytesPerSec simulates a slow link in both directions (0 = no throttle)
	ThrottleBytesPerSec int
	Logger              *zerolog.Logger
}

// Client is a registered connection to a chat server.
//
// Three goroutines serve it: a receive loop that decodes packets onto Incoming,
// a write loop that drains queued packets, and a keepalive loop. All of them stop
// once the client is closed, by Close or by the server; closing the socket is what
// unblocks the receive loop.
type Client struct {
	addr     string
	username string
	conn     net.Conn
	reader   io.Reader
	writer   io.Writer
	opts     Options
	log      zerolog.Logger

	incoming chan protocol.Packet
	outgoing chan protocol.Packet

	// Traffic counters (bytes on the wire)
	bytesSent          atomic.Uint64
	bytesReceived      atomic.Uint64
	keepalivesReceived atomic.Uint64

	mu        sync.Mutex
	err       error
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to addr and registers username.
//
// Registration is confirmed with a ListRooms round trip, since the server does
// not acknowledge a successful Hello; a rejected Hello is returned as a
// *protocol.Error. ctx bounds the dial and handshake only.
func Dial(ctx context.Context, addr, username string, opts Options) (*Client, error) {
	if _, err := protocol.EncodeLabel(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}

	cfg, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	conn, err := cfg.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.display, err)
	}

	c := newClient(conn, cfg.display, username, opts)
	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	c.log.Info().Str("addr", c.addr).Msg("registered")
	c.wg.Add(3)
	go c.readLoop()
	go c.writeLoop()
	go c.keepaliveLoop()
	return c, nil
}

func newClient(conn net.Conn, addr, username string, opts Options) *Client {
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	logger := logging.Component("client")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Client{
		addr:     addr,
		username: username,
		conn:     conn,
		opts:     opts,
		log:      logger.With().Str("user", username).Logger(),
		incoming: make(chan protocol.Packet, incomingBuffer),
		outgoing: make(chan protocol.Packet, outgoingBuffer),
		done:     make(chan struct{}),
	}

	// conn -> throttle (optional) -> counter
	var reader io.Reader = conn
	var writer io.Writer = conn
	if opts.ThrottleBytesPerSec > 0 {
		reader = &throttledReader{r: reader, limiter: newByteLimiter(opts.ThrottleBytesPerSec)}
		writer = &throttledWriter{w: writer, limiter: newByteLimiter(opts.ThrottleBytesPerSec)}
	}
	c.reader = &countingReader{r: reader, counter: &c.bytesReceived}
	c.writer = &countingWriter{w: writer, counter: &c.bytesSent}
	return c
}

// handshake sends Hello followed by ListRooms and waits for the rooms reply.
// Packets that arrive first, such as a private message, are kept for Incoming.
func (c *Client) handshake(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		if err := c.conn.SetDeadline(time.Now().Add(defaultHandshakeTimeout)); err != nil {
			return err
		}
	}

	// ctx ending interrupts the blocked read
	stopWatch := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stopWatch()

	hello, err := protocol.Marshal(protocol.NewHello(c.username))
	if err != nil {
		return err
	}
	list, err := protocol.Marshal(&protocol.ListRoomsPacket{})
	if err != nil {
		return err
	}
	if _, err := c.writer.Write(append(hello, list...)); err != nil {
		return fmt.Errorf("failed to send hello: %w", err)
	}

	for {
		p, err := protocol.ReadPacket(c.reader)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("handshake: %w", err)
		}

		switch msg := p.(type) {
		case *protocol.ErrPacket:
			return &protocol.Error{Code: msg.Code, Detail: "hello rejected by server"}
		case *protocol.KeepalivePacket:
			c.keepalivesReceived.Add(1)
		case *protocol.ListRoomsRespPacket:
			if !stopWatch() {
				return ctx.Err()
			}
			return c.conn.SetDeadline(time.Time{})
		default:
			select {
			case c.incoming <- p:
			default:
				c.log.Warn().Str("op", p.Opcode().String()).Msg("incoming buffer full during handshake, packet dropped")
			}
		}
	}
}

// Username returns the registered name
func (c *Client) Username() string { return c.username }

// Addr returns the server address as dialled
func (c *Client) Addr() string { return c.addr }

// Incoming delivers every packet from the server except Keepalive and Err.
// It is closed when the client stops; Err then reports why.
func (c *Client) Incoming() <-chan protocol.Packet {
	return c.incoming
}

// Done is closed once the client has stopped
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped, or nil while it is running.
// An Err packet from the server is returned as a *protocol.Error.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// BytesSent returns the total bytes written to the server
func (c *Client) BytesSent() uint64 { return c.bytesSent.Load() }

// BytesReceived returns the total bytes read from the server
func (c *Client) BytesReceived() uint64 { return c.bytesReceived.Load() }

// KeepalivesReceived returns how many Keepalive packets the server has sent
func (c *Client) KeepalivesReceived() uint64 { return c.keepalivesReceived.Load() }

// Close disconnects and waits for the client's goroutines to exit
func (c *Client) Close() error {
	c.stop(ErrClosed)
	c.wg.Wait()
	return nil
}

// stop records the first terminal error and closes the socket, which unblocks the receive loop
func (c *Client) stop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()

		if errors.Is(err, ErrClosed) {
			c.log.Debug().Msg("closed")
		} else {
			c.log.Info().Err(err).Msg("disconnected")
		}
	})
}

// ListRooms asks for every room; the answer arrives on Incoming
func (c *Client) ListRooms() error {
	return c.enqueue(&protocol.ListRoomsPacket{})
}

// ListUsers asks for the members of room; the answer arrives on Incoming
func (c *Client) ListUsers(room string) error {
	return c.enqueue(&protocol.ListUsersPacket{Room: room})
}

// Join joins room, creating it if needed. Every member, this client included,
// then receives the room's member list.
func (c *Client) Join(room string) error {
	return c.enqueue(&protocol.JoinRoomPacket{Room: room})
}

// Leave leaves room
func (c *Client) Leave(room string) error {
	return c.enqueue(&protocol.LeaveRoomPacket{Room: room})
}

// Send sends body to a room, or to a user when no room has that name
func (c *Client) Send(target, body string) error {
	return c.enqueue(&protocol.SendMsgPacket{Body: body, Target: target})
}

// enqueue validates p and queues it for the write loop without blocking
func (c *Client) enqueue(p protocol.Packet) error {
	if err := p.Validate(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	select {
	case c.outgoing <- p:
		return nil
	case <-c.done:
		return c.closedErr()
	default:
		return ErrQueueFull
	}
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return ErrClosed
}

// Await consumes Incoming until match accepts a packet, ctx ends or the client stops.
// Packets that do not match are discarded, so Await must not race another reader of Incoming.
func (c *Client) Await(ctx context.Context, match func(protocol.Packet) bool) (protocol.Packet, error) {
	for {
		select {
		case p, ok := <-c.incoming:
			if !ok {
				return nil, c.closedErr()
			}
			if match(p) {
				return p, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Rooms lists rooms and waits for the reply
func (c *Client) Rooms(ctx context.Context) ([]string, error) {
	if err := c.ListRooms(); err != nil {
		return nil, err
	}
	p, err := c.Await(ctx, func(p protocol.Packet) bool {
		return p.Opcode() == protocol.OpListRoomsResp
	})
	if err != nil {
		return nil, err
	}
	return p.(*protocol.ListRoomsRespPacket).Rooms, nil
}

// Users lists the members of room and waits for the reply
func (c *Client) Users(ctx context.Context, room string) ([]string, error) {
	if err := c.ListUsers(room); err != nil {
		return nil, err
	}
	p, err := c.Await(ctx, func(p protocol.Packet) bool {
		resp, ok := p.(*protocol.ListUsersRespPacket)
		return ok && resp.Room == room
	})
	if err != nil {
		return nil, err
	}
	return p.(*protocol.ListUsersRespPacket).Users, nil
}

// JoinAndWait joins room and returns the member list broadcast that follows
func (c *Client) JoinAndWait(ctx context.Context, room string) ([]string, error) {
	if err := c.Join(room); err != nil {
		return nil, err
	}
	p, err := c.Await(ctx, func(p protocol.Packet) bool {
		resp, ok := p.(*protocol.ListUsersRespPacket)
		return ok && resp.Room == room
	})
	if err != nil {
		return nil, err
	}
	return p.(*protocol.ListUsersRespPacket).Users, nil
}

// readLoop decodes packets from the server until the connection ends
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.incoming)

	for {
		p, err := protocol.ReadPacket(c.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.stop(io.EOF)
			} else {
				c.stop(fmt.Errorf("read error: %w", err))
			}
			return
		}

		c.log.Debug().Str("op", p.Opcode().String()).Msg("recv")

		switch msg := p.(type) {
		case *protocol.KeepalivePacket:
			c.keepalivesReceived.Add(1)
			continue
		case *protocol.ErrPacket:
			c.stop(&protocol.Error{Code: msg.Code, Detail: "sent by server"})
			return
		}

		select {
		case c.incoming <- p:
		case <-c.done:
			return
		}
	}
}

// writeLoop sends queued packets to the server
func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case p := <-c.outgoing:
			data, err := protocol.Marshal(p)
			if err != nil {
				c.log.Warn().Err(err).Str("op", p.Opcode().String()).Msg("encode error")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if _, err := c.writer.Write(data); err != nil {
				c.stop(fmt.Errorf("write error: %w", err))
				return
			}
			c.log.Debug().Str("op", p.Opcode().String()).Int("len", len(data)).Msg("send")

		case <-c.done:
			return
		}
	}
}

// keepaliveLoop sends a Keepalive every interval
func (c *Client) keepaliveLoop() {
	defer c.wg.Done()

	if c.opts.KeepaliveInterval < 0 {
		<-c.done
		return
	}

	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.enqueue(&protocol.KeepalivePacket{}); err != nil && !errors.Is(err, ErrQueueFull) {
				return
			}
		case <-c.done:
			return
		}
	}
}
