package server

import (
	"fmt"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// dispatch runs the handler for one packet from a registered user.
// A returned error disconnects the user; protocol errors are reported with Err first.
func (r *Reactor) dispatch(u *User, p protocol.Packet) error {
	switch msg := p.(type) {
	case *protocol.KeepalivePacket:
		return nil
	case *protocol.ErrPacket:
		return fmt.Errorf("%w: %s", errPeerError, msg.Code)
	case *protocol.ListRoomsPacket:
		return r.handleListRooms(u)
	case *protocol.ListUsersPacket:
		return r.handleListUsers(u, msg)
	case *protocol.JoinRoomPacket:
		return r.handleJoinRoom(u, msg)
	case *protocol.LeaveRoomPacket:
		return r.handleLeaveRoom(u, msg)
	case *protocol.SendMsgPacket:
		return r.handleSendMsg(u, msg)
	default:
		// a second Hello, or an opcode only the server may send
		return &protocol.Error{
			Code:   protocol.CodeIllegalOpcode,
			Detail: fmt.Sprintf("%s not accepted from an active client", p.Opcode()),
		}
	}
}

// reply sends a response to u. A response that cannot be encoded is logged and
// skipped; the connection stays up.
func (r *Reactor) reply(u *User, p protocol.Packet) error {
	data, err := protocol.Marshal(p)
	if err != nil {
		u.Conn.logger().Error().Err(err).Str("op", p.Opcode().String()).Msg("reply not encodable, skipped")
		return nil
	}
	return u.Conn.sendEncoded(p.Opcode(), data)
}

// handleListRooms handles LIST_ROOMS
func (r *Reactor) handleListRooms(u *User) error {
	return r.reply(u, &protocol.ListRoomsRespPacket{Rooms: r.rooms.List()})
}

// handleListUsers handles LIST_USERS. An unknown room yields an empty list.
func (r *Reactor) handleListUsers(u *User, msg *protocol.ListUsersPacket) error {
	resp := &protocol.ListUsersRespPacket{
		Users: r.rooms.Usernames(msg.Room),
		Room:  msg.Room,
	}
	return r.reply(u, resp)
}

// handleJoinRoom handles JOIN_ROOM, then tells every member who is in the room
func (r *Reactor) handleJoinRoom(u *User, msg *protocol.JoinRoomPacket) error {
	created, err := r.rooms.Join(u, msg.Room)
	if err != nil {
		return err
	}

	u.Conn.logger().Info().Str("room", msg.Room).Bool("created", created).Msg("joined room")
	r.router.BroadcastUserList(msg.Room)
	return nil
}

// handleLeaveRoom handles LEAVE_ROOM
func (r *Reactor) handleLeaveRoom(u *User, msg *protocol.LeaveRoomPacket) error {
	r.rooms.Leave(u, msg.Room)
	u.Conn.logger().Info().Str("room", msg.Room).Msg("left room")
	return nil
}

// handleSendMsg handles SEND_MSG to a room or, failing that, a user
func (r *Reactor) handleSendMsg(u *User, msg *protocol.SendMsgPacket) error {
	r.router.Route(u, msg.Target, msg.Body)
	return nil
}
