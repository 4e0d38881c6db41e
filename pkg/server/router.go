package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// Router resolves message targets to live connections and fans packets out.
// A failed send to one member marks only that member dead; delivery to the
// rest continues and the sender never sees the failure.
type Router struct {
	sessions *SessionRegistry
	rooms    *RoomRegistry
	metrics  *Metrics
	log      zerolog.Logger

	// onDead is called for every member whose send failed, after the fan-out completes
	onDead func(c *Conn, err error)
}

// NewRouter creates a router over the given registries
func NewRouter(sessions *SessionRegistry, rooms *RoomRegistry, metrics *Metrics, logger zerolog.Logger, onDead func(*Conn, error)) *Router {
	return &Router{
		sessions: sessions,
		rooms:    rooms,
		metrics:  metrics,
		log:      logger,
		onDead:   onDead,
	}
}

type deadMember struct {
	conn *Conn
	err  error
}

// broadcast sends p to each member independently and returns how many queued it.
// p is encoded once; a packet that cannot be encoded is logged and sent to nobody.
func (r *Router) broadcast(broadcastType string, members []*User, p protocol.Packet) int {
	start := time.Now()
	data, err := protocol.Marshal(p)
	if err != nil {
		r.log.Error().Err(err).Str("op", p.Opcode().String()).Int("members", len(members)).Msg("broadcast not encodable, skipped")
		return 0
	}

	dead := make([]deadMember, 0)
	delivered := 0

	for _, u := range members {
		if err := u.Conn.sendEncoded(p.Opcode(), data); err != nil {
			r.log.Debug().Err(err).Str("user", u.Name).Str("op", p.Opcode().String()).Msg("broadcast send failed")
			dead = append(dead, deadMember{conn: u.Conn, err: err})
			continue
		}
		delivered++
	}
	r.metrics.RecordBroadcast(broadcastType, delivered, time.Since(start).Seconds())

	for _, d := range dead {
		if r.onDead != nil {
			r.onDead(d.conn, d.err)
		}
	}
	return delivered
}

// SendToRoom delivers body from sender to every member of room, sender included.
// Unknown rooms are silently ignored. Returns the number of members reached.
func (r *Router) SendToRoom(sender *User, room, body string) int {
	if !r.rooms.Exists(room) {
		r.log.Debug().Str("user", sender.Name).Str("room", room).Msg("message to unknown room dropped")
		return 0
	}
	tell := &protocol.TellMsgPacket{Body: body, Sender: sender.Name, Target: room}
	return r.broadcast("message", r.rooms.Members(room), tell)
}

// SendPriv delivers body from sender to the single user named target.
// The TellMsg target field carries the recipient's name. Unknown users are silently ignored.
func (r *Router) SendPriv(sender *User, target, body string) bool {
	recipient, ok := r.sessions.LookupName(target)
	if !ok {
		r.log.Debug().Str("user", sender.Name).Str("target", target).Msg("message to unknown user dropped")
		return false
	}
	tell := &protocol.TellMsgPacket{Body: body, Sender: sender.Name, Target: target}
	return r.broadcast("private", []*User{recipient}, tell) == 1
}

// Route sends to a room when one exists by that name, otherwise to a user by that name
func (r *Router) Route(sender *User, target, body string) {
	if r.rooms.Exists(target) {
		r.SendToRoom(sender, target, body)
		return
	}
	r.SendPriv(sender, target, body)
}

// BroadcastUserList sends the room's current member list to every member
func (r *Router) BroadcastUserList(room string) int {
	members := r.rooms.Members(room)
	names := make([]string, len(members))
	for i, u := range members {
		names[i] = u.Name
	}
	resp := &protocol.ListUsersRespPacket{Users: names, Room: room}
	return r.broadcast("user_list", members, resp)
}
