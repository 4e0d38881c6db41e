package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aeolun/chatroom/pkg/logging"
	"github.com/aeolun/chatroom/pkg/protocol"
)

// Server accepts client connections and feeds them to the reactor
type Server struct {
	config  ServerConfig
	reactor *Reactor
	metrics *Metrics
	log     zerolog.Logger

	listener net.Listener
	wsServer *http.Server
	wsAddr   net.Addr
	admin    *AdminAPI

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu   sync.Mutex
	conns    map[uuid.UUID]*Conn
	stopping bool
}

// ServerConfig holds server configuration
type ServerConfig struct {
	BindAddress   string
	TCPPort       int
	WebSocketAddr string // empty disables the WebSocket gateway
	AdminAddr     string // empty disables the admin API

	MaxUsers int // 0 means unlimited
	MaxRooms int // 0 means unlimited

	ReadTimeout  time.Duration // Hello, and the rest of a packet once its first byte arrives
	IdleTimeout  time.Duration // wait for the next packet; 0 waits forever
	WriteTimeout time.Duration
	OutboxSize   int

	PacketRate  float64 // inbound packets per second; 0 (the default) disables limiting
	PacketBurst int

	KeepaliveInterval time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:           protocol.DefaultPort,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		OutboxSize:        64,
		PacketBurst:       100,
		KeepaliveInterval: DefaultKeepaliveInterval,
	}
}

// NewServer creates a new server instance
func NewServer(config ServerConfig) *Server {
	metrics := NewMetrics()
	logger := logging.Component("server")
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:  config,
		reactor: NewReactor(config, metrics, logging.Component("reactor")),
		metrics: metrics,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[uuid.UUID]*Conn),
	}
}

// Reactor returns the server's reactor
func (s *Server) Reactor() *Reactor { return s.reactor }

// Metrics returns the server's metrics
func (s *Server) Metrics() *Metrics { return s.metrics }

// Addr returns the TCP listener address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WebSocketAddr returns the WebSocket gateway address, or nil when disabled
func (s *Server) WebSocketAddr() net.Addr { return s.wsAddr }

// AdminAddr returns the admin API address, or nil when disabled
func (s *Server) AdminAddr() net.Addr {
	if s.admin == nil {
		return nil
	}
	return s.admin.Addr()
}

// Start binds every configured listener and starts serving.
// A bind failure is returned and nothing is left running.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.TCPPort))
	lc := net.ListenConfig{Control: controlReuseAddr}
	listener, err := lc.Listen(s.ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	logListenBacklog(s.log, listener.Addr().String())

	if s.config.WebSocketAddr != "" {
		if err := s.startWebSocketGateway(s.config.WebSocketAddr); err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to start websocket gateway: %w", err)
		}
	}

	if s.config.AdminAddr != "" {
		s.admin = NewAdminAPI(s)
		if err := s.admin.Start(s.config.AdminAddr); err != nil {
			s.listener.Close()
			if s.wsServer != nil {
				s.wsServer.Close()
			}
			return fmt.Errorf("failed to start admin api: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reactor.Run(s.ctx)
	}()

	s.wg.Add(1)
	go s.monitorListenOverflows()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listeners, disconnects every client and waits for all goroutines
func (s *Server) Stop() error {
	s.connMu.Lock()
	if s.stopping {
		s.connMu.Unlock()
		return nil
	}
	s.stopping = true
	s.connMu.Unlock()

	s.cancel()

	var errs []error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.wsServer != nil {
		if err := s.wsServer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.admin != nil {
		if err := s.admin.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	// connections still waiting for Hello are not known to the reactor
	s.connMu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("server stopped")
	return errors.Join(errs...)
}

// controlReuseAddr sets SO_REUSEADDR before bind
func controlReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = setSocketOptions(fd)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error().Err(err).Msg("accept error")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go s.serveConn(conn, "tcp")
	}
}

// beginConn reserves a WaitGroup slot for a connection served outside acceptLoop.
// Returns false once Stop has begun.
func (s *Server) beginConn() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) track(c *Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.stopping {
		return false
	}
	s.conns[c.ID] = c
	return true
}

func (s *Server) untrack(c *Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	delete(s.conns, c.ID)
}

// Connections returns every open connection, registered or not
func (s *Server) Connections() []*Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// serveConn runs one connection from accept to close:
// Connecting → AwaitingHello → Active → Closed.
func (s *Server) serveConn(raw net.Conn, transport string) {
	defer s.wg.Done()

	c := newConn(raw, transport, s.config, s.metrics, s.log)
	if !s.track(c) {
		raw.Close()
		return
	}
	defer s.untrack(c)
	s.metrics.RecordConnection(transport)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()

	c.logger().Info().Msg("connected")
	c.setState(StateAwaitingHello)

	hello, err := c.readHello(s.config.ReadTimeout)
	if err != nil {
		s.reject(c, err)
		return
	}
	if err := s.reactor.Register(c, hello.Username); err != nil {
		s.reject(c, err)
		return
	}

	s.readLoop(c)
}

// reject closes a connection that never became active
func (s *Server) reject(c *Conn, err error) {
	s.metrics.RecordDisconnect(disconnectReason(err))

	if protocol.IsProtocolError(err) {
		c.logger().Warn().Err(err).Msg("hello rejected")
		c.CloseWithError(protocol.CodeOf(err))
		return
	}
	c.logger().Debug().Err(err).Msg("closed before hello")
	c.Close()
}

// readLoop decodes packets and posts them to the reactor until the connection fails
func (s *Server) readLoop(c *Conn) {
	for {
		p, err := c.readPacket(s.config.IdleTimeout, s.config.ReadTimeout)
		if err != nil {
			s.reactor.post(closeEvent{conn: c, err: err})
			return
		}
		if !c.allow(p) {
			c.logger().Debug().Str("op", p.Opcode().String()).Msg("rate limited, packet dropped")
			continue
		}
		if !c.waitForRoom() {
			// closed while waiting; the closer already cleaned up or will
			s.reactor.post(closeEvent{conn: c, err: ErrConnClosed})
			return
		}
		c.requestPosted()
		if !s.reactor.post(packetEvent{conn: c, packet: p}) {
			return
		}
	}
}
