package server

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/chatroom/pkg/protocol"
)

type deadRecorder struct {
	conns []*Conn
	errs  []error
}

func (d *deadRecorder) record(c *Conn, err error) {
	d.conns = append(d.conns, c)
	d.errs = append(d.errs, err)
}

func newTestRouter(t *testing.T) (*Router, *SessionRegistry, *RoomRegistry, *deadRecorder) {
	t.Helper()
	sr := NewSessionRegistry(0, nil)
	rr := NewRoomRegistry(0, nil)
	dead := &deadRecorder{}
	return NewRouter(sr, rr, nil, zerolog.Nop(), dead.record), sr, rr, dead
}

func TestRouterSendToRoomIncludesSender(t *testing.T) {
	router, sr, rr, dead := newTestRouter(t)
	alice := testUser(t, sr, "alice")
	bob := testUser(t, sr, "bob")
	carol := testUser(t, sr, "carol")
	_, _ = rr.Join(alice, "lobby")
	_, _ = rr.Join(bob, "lobby")

	n := router.SendToRoom(alice, "lobby", "hi all")
	assert.Equal(t, 2, n)
	assert.Empty(t, dead.conns)

	want := &protocol.TellMsgPacket{Body: "hi all", Sender: "alice", Target: "lobby"}
	assert.Equal(t, []protocol.Packet{want}, queued(t, alice.Conn))
	assert.Equal(t, []protocol.Packet{want}, queued(t, bob.Conn))
	assert.Empty(t, queued(t, carol.Conn))
}

func TestRouterUnknownRoomDropped(t *testing.T) {
	router, sr, _, _ := newTestRouter(t)
	alice := testUser(t, sr, "alice")

	assert.Zero(t, router.SendToRoom(alice, "nowhere", "hello?"))
	assert.Empty(t, queued(t, alice.Conn))
}

func TestRouterSendPriv(t *testing.T) {
	router, sr, _, _ := newTestRouter(t)
	alice := testUser(t, sr, "alice")
	bob := testUser(t, sr, "bob")

	assert.True(t, router.SendPriv(alice, "bob", "psst"))
	assert.Empty(t, queued(t, alice.Conn))
	assert.Equal(t, []protocol.Packet{
		&protocol.TellMsgPacket{Body: "psst", Sender: "alice", Target: "bob"},
	}, queued(t, bob.Conn))

	assert.False(t, router.SendPriv(alice, "nobody", "psst"))
}

func TestRouterRoutePrefersRooms(t *testing.T) {
	router, sr, rr, _ := newTestRouter(t)
	alice := testUser(t, sr, "alice")
	bob := testUser(t, sr, "bob")
	carol := testUser(t, sr, "carol")

	// a room that shares bob's name
	_, _ = rr.Join(carol, "bob")

	router.Route(alice, "bob", "who gets this")
	assert.Empty(t, queued(t, bob.Conn))
	assert.Equal(t, []protocol.Packet{
		&protocol.TellMsgPacket{Body: "who gets this", Sender: "alice", Target: "bob"},
	}, queued(t, carol.Conn))

	router.Route(alice, "carol", "direct")
	assert.Len(t, queued(t, carol.Conn), 1)

	// neither room nor user
	router.Route(alice, "ghost", "void")
	assert.Empty(t, queued(t, alice.Conn))
}

func TestRouterPartialFailure(t *testing.T) {
	router, sr, rr, dead := newTestRouter(t)
	alice := testUser(t, sr, "alice")
	bob := testUser(t, sr, "bob")
	carol := testUser(t, sr, "carol")
	for _, u := range []*User{alice, bob, carol} {
		_, err := rr.Join(u, "lobby")
		require.NoError(t, err)
	}

	require.NoError(t, bob.Conn.Close())

	n := router.SendToRoom(alice, "lobby", "still here?")
	assert.Equal(t, 2, n)

	require.Len(t, dead.conns, 1)
	assert.Same(t, bob.Conn, dead.conns[0])
	assert.ErrorIs(t, dead.errs[0], ErrConnClosed)

	assert.Len(t, queued(t, alice.Conn), 1)
	assert.Len(t, queued(t, carol.Conn), 1)
}

func TestRouterSlowConsumerIsDead(t *testing.T) {
	router, sr, rr, dead := newTestRouter(t)
	alice := testUser(t, sr, "alice")
	bob := testUser(t, sr, "bob")
	_, _ = rr.Join(alice, "lobby")
	_, _ = rr.Join(bob, "lobby")

	// fill bob's outbox
	for {
		if err := bob.Conn.Send(&protocol.KeepalivePacket{}); err != nil {
			require.ErrorIs(t, err, ErrOutboxFull)
			break
		}
	}

	router.SendToRoom(alice, "lobby", "msg")
	require.Len(t, dead.conns, 1)
	assert.Same(t, bob.Conn, dead.conns[0])
	assert.ErrorIs(t, dead.errs[0], ErrOutboxFull)
}

func TestRouterUnencodableMessageKeepsMembers(t *testing.T) {
	router, sr, rr, dead := newTestRouter(t)
	alice := testUser(t, sr, "alice")
	bob := testUser(t, sr, "bob")
	_, _ = rr.Join(alice, "lobby")
	_, _ = rr.Join(bob, "lobby")

	assert.Zero(t, router.SendToRoom(alice, "lobby", "tab\there"))
	assert.Empty(t, dead.conns)
	assert.Empty(t, queued(t, alice.Conn))
	assert.Empty(t, queued(t, bob.Conn))
	assert.NotEqual(t, StateClosed, bob.Conn.State())

	// the room still works afterwards
	assert.Equal(t, 2, router.SendToRoom(alice, "lobby", "fine"))
}

func TestRouterBroadcastUserList(t *testing.T) {
	router, sr, rr, _ := newTestRouter(t)
	alice := testUser(t, sr, "alice")
	bob := testUser(t, sr, "bob")
	_, _ = rr.Join(alice, "lobby")
	_, _ = rr.Join(bob, "lobby")

	assert.Equal(t, 2, router.BroadcastUserList("lobby"))

	want := &protocol.ListUsersRespPacket{Users: []string{"alice", "bob"}, Room: "lobby"}
	assert.Equal(t, []protocol.Packet{want}, queued(t, alice.Conn))
	assert.Equal(t, []protocol.Packet{want}, queued(t, bob.Conn))
}
