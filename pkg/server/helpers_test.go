package server

import (
	"bytes"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/chatroom/pkg/protocol"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// mockConn implements net.Conn for testing
type mockConn struct {
	mu       sync.Mutex
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	closed   bool
}

func newMockConn() *mockConn {
	return &mockConn{}
}

func (m *mockConn) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.readBuf.Read(b)
}

func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.writeBuf.Write(b)
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7734} }
func (m *mockConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

// testConn creates a Conn over a mockConn without starting its writer,
// so queued packets stay in the outbox for inspection.
func testConn(t *testing.T) *Conn {
	t.Helper()
	cfg := DefaultConfig()
	return newConn(newMockConn(), "tcp", cfg, nil, zerolog.Nop())
}

// testUser registers a new test connection under name
func testUser(t *testing.T, sessions *SessionRegistry, name string) *User {
	t.Helper()
	c := testConn(t)
	u, err := sessions.Register(name, c)
	require.NoError(t, err)
	c.setUsername(name)
	c.setState(StateActive)
	return u
}

// queued drains and decodes everything waiting in c's outbox
func queued(t *testing.T, c *Conn) []protocol.Packet {
	t.Helper()
	var packets []protocol.Packet
	for {
		select {
		case data, ok := <-c.outbox:
			if !ok {
				return packets
			}
			p, err := protocol.Unmarshal(data)
			require.NoError(t, err)
			packets = append(packets, p)
		default:
			return packets
		}
	}
}
