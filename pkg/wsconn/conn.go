// Package wsconn adapts gorilla WebSocket connections to net.Conn so the
// chat protocol can run unchanged over a WebSocket.
//
// Every Write becomes one binary message. Message boundaries carry no meaning:
// a packet may span several messages and one message may hold several packets.
package wsconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// Path is where servers accept upgrades and clients connect
const Path = "/ws"

// ErrTextFrame is returned by Read when the peer sends a text message
var ErrTextFrame = errors.New("websocket: text frames are not supported")

// Conn adapts a WebSocket connection to net.Conn
type Conn struct {
	ws      *websocket.Conn
	readBuf bytes.Buffer
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// New wraps ws, limiting inbound messages to the largest legal packet
func New(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(protocol.HeaderLength + protocol.MaxPacketLength)
	return &Conn{ws: ws}
}

// Dial connects to a chat server's WebSocket gateway.
// addr is host:port; useTLS selects wss.
func Dial(ctx context.Context, addr string, useTLS bool) (*Conn, error) {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: addr, Path: Path}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if strings.Contains(err.Error(), "bad handshake") {
			if useTLS {
				return nil, fmt.Errorf("TLS handshake failed, server may not support wss (try ws:// instead): %w", err)
			}
			return nil, fmt.Errorf("handshake failed, server may require wss (try wss:// instead): %w", err)
		}
		return nil, err
	}
	return New(ws), nil
}

// WebSocket returns the underlying connection
func (c *Conn) WebSocket() *websocket.Conn {
	return c.ws
}

// Read implements net.Conn.Read
func (c *Conn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for c.readBuf.Len() == 0 {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			return 0, ErrTextFrame
		}
		c.readBuf.Write(data)
	}

	return c.readBuf.Read(b)
}

// Write implements net.Conn.Write
func (c *Conn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}

	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close implements net.Conn.Close
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// LocalAddr implements net.Conn.LocalAddr
func (c *Conn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr implements net.Conn.RemoteAddr
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetDeadline implements net.Conn.SetDeadline
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn.SetReadDeadline
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.SetWriteDeadline
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
