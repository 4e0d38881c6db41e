package client_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/chatroom/pkg/client"
	"github.com/aeolun/chatroom/pkg/protocol"
	"github.com/aeolun/chatroom/pkg/server"
)

const testTimeout = 2 * time.Second

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func startServer(t *testing.T, mutate func(*server.ServerConfig)) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.BindAddress = "127.0.0.1"
	cfg.TCPPort = 0
	cfg.KeepaliveInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	s := server.NewServer(cfg)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func dial(t *testing.T, addr, username string, opts client.Options) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	c, err := client.Dial(ctx, addr, username, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestDialRegisters(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s.Addr().String(), "alice", client.Options{})

	assert.Equal(t, "alice", c.Username())
	_, ok := s.Reactor().Sessions().LookupName("alice")
	assert.True(t, ok)

	rooms, err := c.Rooms(ctxT(t))
	require.NoError(t, err)
	assert.Empty(t, rooms)
	assert.NoError(t, c.Err())
}

func TestDialDuplicateName(t *testing.T) {
	s := startServer(t, nil)
	dial(t, s.Addr().String(), "alice", client.Options{})

	_, err := client.Dial(ctxT(t), s.Addr().String(), "alice", client.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrNameExists)
}

func TestDialInvalidUsername(t *testing.T) {
	_, err := client.Dial(ctxT(t), "127.0.0.1:1", " spaced ", client.Options{})
	assert.ErrorIs(t, err, protocol.ErrIllegalLabel)
}

func TestDialHonoursContext(t *testing.T) {
	// a listener that accepts but never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.Dial(ctx, ln.Addr().String(), "alice", client.Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRoomConversation(t *testing.T) {
	s := startServer(t, nil)
	alice := dial(t, s.Addr().String(), "alice", client.Options{})
	bob := dial(t, s.Addr().String(), "bob", client.Options{})

	users, err := alice.JoinAndWait(ctxT(t), "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	users, err = bob.JoinAndWait(ctxT(t), "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	require.NoError(t, bob.Send("lobby", "hi alice"))

	isTell := func(p protocol.Packet) bool { return p.Opcode() == protocol.OpTellMsg }
	want := &protocol.TellMsgPacket{Body: "hi alice", Sender: "bob", Target: "lobby"}

	p, err := alice.Await(ctxT(t), isTell)
	require.NoError(t, err)
	assert.Equal(t, want, p)

	p, err = bob.Await(ctxT(t), isTell)
	require.NoError(t, err)
	assert.Equal(t, want, p)

	rooms, err := bob.Rooms(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, rooms)

	require.NoError(t, bob.Leave("lobby"))
	users, err = alice.Users(ctxT(t), "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestPrivateMessage(t *testing.T) {
	s := startServer(t, nil)
	alice := dial(t, s.Addr().String(), "alice", client.Options{})
	bob := dial(t, s.Addr().String(), "bob", client.Options{})

	require.NoError(t, alice.Send("bob", "secret"))
	p, err := bob.Await(ctxT(t), func(p protocol.Packet) bool { return p.Opcode() == protocol.OpTellMsg })
	require.NoError(t, err)
	assert.Equal(t, &protocol.TellMsgPacket{Body: "secret", Sender: "alice", Target: "bob"}, p)
}

func TestSendValidatesLocally(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s.Addr().String(), "alice", client.Options{})

	assert.ErrorIs(t, c.Join(""), protocol.ErrIllegalLabel)
	assert.ErrorIs(t, c.Send("lobby", "bad\x00body"), protocol.ErrIllegalMessage)

	// still connected
	_, err := c.Rooms(ctxT(t))
	assert.NoError(t, err)
}

func TestCloseStopsClient(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s.Addr().String(), "alice", client.Options{})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	_, open := <-c.Incoming()
	assert.False(t, open)
	assert.ErrorIs(t, c.Err(), client.ErrClosed)
	assert.ErrorIs(t, c.Send("lobby", "hello"), client.ErrClosed)

	require.Eventually(t, func() bool {
		return s.Reactor().Sessions().Count() == 0
	}, testTimeout, 5*time.Millisecond)
}

func TestServerErrStopsClient(t *testing.T) {
	s := startServer(t, func(cfg *server.ServerConfig) { cfg.MaxRooms = 1 })
	c := dial(t, s.Addr().String(), "alice", client.Options{})

	_, err := c.JoinAndWait(ctxT(t), "one")
	require.NoError(t, err)
	require.NoError(t, c.Join("two"))

	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("client still running")
	}
	assert.ErrorIs(t, c.Err(), protocol.ErrTooManyRooms)
	assert.ErrorIs(t, c.ListRooms(), client.ErrClosed)
}

func TestServerStopEndsClient(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s.Addr().String(), "alice", client.Options{})

	require.NoError(t, s.Stop())
	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("client still running")
	}
	assert.Error(t, c.Err())
	assert.NotErrorIs(t, c.Err(), client.ErrClosed)
}

func TestKeepalivesBothWays(t *testing.T) {
	s := startServer(t, func(cfg *server.ServerConfig) { cfg.KeepaliveInterval = 30 * time.Millisecond })
	c := dial(t, s.Addr().String(), "alice", client.Options{KeepaliveInterval: 20 * time.Millisecond})

	sentAfterDial := c.BytesSent()
	require.Eventually(t, func() bool {
		return c.KeepalivesReceived() >= 2 && c.BytesSent() >= sentAfterDial+2*protocol.HeaderLength
	}, testTimeout, 10*time.Millisecond)

	// keepalives never surface on Incoming
	select {
	case p := <-c.Incoming():
		t.Fatalf("unexpected %s", p.Opcode())
	default:
	}
}

func TestWebSocketDial(t *testing.T) {
	s := startServer(t, func(cfg *server.ServerConfig) { cfg.WebSocketAddr = "127.0.0.1:0" })

	web := dial(t, "ws://"+s.WebSocketAddr().String(), "web", client.Options{})
	tcp := dial(t, "tcp://"+s.Addr().String(), "tcp", client.Options{})

	_, err := web.JoinAndWait(ctxT(t), "bridge")
	require.NoError(t, err)
	_, err = tcp.JoinAndWait(ctxT(t), "bridge")
	require.NoError(t, err)

	require.NoError(t, tcp.Send("bridge", "across transports"))
	p, err := web.Await(ctxT(t), func(p protocol.Packet) bool { return p.Opcode() == protocol.OpTellMsg })
	require.NoError(t, err)
	assert.Equal(t, &protocol.TellMsgPacket{Body: "across transports", Sender: "tcp", Target: "bridge"}, p)
}

func TestThrottledClient(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s.Addr().String(), "slow", client.Options{ThrottleBytesPerSec: 2000})

	users, err := c.JoinAndWait(ctxT(t), "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"slow"}, users)
	assert.Positive(t, c.BytesReceived())
}
