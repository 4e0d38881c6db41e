package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// Opcode identifies a packet variant
type Opcode uint8

// Opcodes (either direction)
const (
	OpErr       Opcode = 0x00
	OpKeepalive Opcode = 0x01
)

// Opcodes (Client → Server)
const (
	OpHello     Opcode = 0x02
	OpListRooms Opcode = 0x03
	OpListUsers Opcode = 0x04
	OpJoinRoom  Opcode = 0x05
	OpLeaveRoom Opcode = 0x06
	OpSendMsg   Opcode = 0x07
)

// Opcodes (Server → Client)
const (
	OpListRoomsResp Opcode = 0x08
	OpListUsersResp Opcode = 0x09
	OpTellMsg       Opcode = 0x0A
)

const helloLength = LabelLength + 2

func (o Opcode) String() string {
	switch o {
	case OpErr:
		return "ERR"
	case OpKeepalive:
		return "KEEPALIVE"
	case OpHello:
		return "HELLO"
	case OpListRooms:
		return "LIST_ROOMS"
	case OpListUsers:
		return "LIST_USERS"
	case OpJoinRoom:
		return "JOIN_ROOM"
	case OpLeaveRoom:
		return "LEAVE_ROOM"
	case OpSendMsg:
		return "SEND_MSG"
	case OpListRoomsResp:
		return "LIST_ROOMS_RESP"
	case OpListUsersResp:
		return "LIST_USERS_RESP"
	case OpTellMsg:
		return "TELL_MSG"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether o is a known opcode
func (o Opcode) Valid() bool {
	return o <= OpTellMsg
}

// ClientSendable reports whether a server should accept o from a client
func (o Opcode) ClientSendable() bool {
	return o <= OpSendMsg
}

// Packet is one variant of the wire protocol.
// EncodeTo writes the payload only; Marshal/WritePacket add the header.
type Packet interface {
	Opcode() Opcode
	Validate() error
	EncodeTo(w io.Writer) error
	Decode(payload []byte) error
}

func newPacket(op Opcode) Packet {
	switch op {
	case OpErr:
		return &ErrPacket{}
	case OpKeepalive:
		return &KeepalivePacket{}
	case OpHello:
		return &HelloPacket{}
	case OpListRooms:
		return &ListRoomsPacket{}
	case OpListUsers:
		return &ListUsersPacket{}
	case OpJoinRoom:
		return &JoinRoomPacket{}
	case OpLeaveRoom:
		return &LeaveRoomPacket{}
	case OpSendMsg:
		return &SendMsgPacket{}
	case OpListRoomsResp:
		return &ListRoomsRespPacket{}
	case OpListUsersResp:
		return &ListUsersRespPacket{}
	case OpTellMsg:
		return &TellMsgPacket{}
	}
	panic(fmt.Sprintf("protocol: no packet for opcode 0x%02X", uint8(op)))
}

func checkPayloadLength(op Opcode, payload []byte, want int) error {
	if len(payload) != want {
		return newError(CodeIllegalLength, "%s payload is %d bytes, want %d", op, len(payload), want)
	}
	return nil
}

// ErrPacket (0x00) - Peer detected a fault; the conversation ends.
// Not validated beyond its opcode.
type ErrPacket struct {
	Code ErrorCode
}

func (m *ErrPacket) Opcode() Opcode  { return OpErr }
func (m *ErrPacket) Validate() error { return nil }

func (m *ErrPacket) EncodeTo(w io.Writer) error {
	return WriteUint8(w, uint8(m.Code))
}

func (m *ErrPacket) Decode(payload []byte) error {
	if len(payload) == 0 {
		m.Code = CodeUnknown
		return nil
	}
	m.Code = ErrorCode(payload[0])
	return nil
}

// KeepalivePacket (0x01) - Liveness signal, empty payload
type KeepalivePacket struct{}

func (m *KeepalivePacket) Opcode() Opcode              { return OpKeepalive }
func (m *KeepalivePacket) Validate() error             { return nil }
func (m *KeepalivePacket) EncodeTo(w io.Writer) error  { return nil }
func (m *KeepalivePacket) Decode(payload []byte) error { return nil }

// HelloPacket (0x02) - First packet of every client connection
type HelloPacket struct {
	Username string
	Version  uint16
}

// NewHello returns a Hello for username at the current protocol version
func NewHello(username string) *HelloPacket {
	return &HelloPacket{Username: username, Version: ProtocolVersion}
}

func (m *HelloPacket) Opcode() Opcode { return OpHello }

func (m *HelloPacket) Validate() error {
	if m.Version != ProtocolVersion {
		return newError(CodeWrongVersion, "version 0x%04X", m.Version)
	}
	if _, err := EncodeLabel(m.Username); err != nil {
		return err
	}
	return nil
}

func (m *HelloPacket) EncodeTo(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := WriteLabel(w, m.Username); err != nil {
		return err
	}
	return WriteUint16(w, m.Version)
}

func (m *HelloPacket) Decode(payload []byte) error {
	if err := checkPayloadLength(OpHello, payload, helloLength); err != nil {
		return err
	}
	buf := bytes.NewReader(payload)
	username, err := ReadLabel(buf)
	if err != nil {
		return err
	}
	version, err := ReadUint16(buf)
	if err != nil {
		return err
	}
	if version != ProtocolVersion {
		return newError(CodeWrongVersion, "version 0x%04X", version)
	}

	m.Username = username
	m.Version = version
	return nil
}

// ListRoomsPacket (0x03) - Request the list of rooms
type ListRoomsPacket struct{}

func (m *ListRoomsPacket) Opcode() Opcode             { return OpListRooms }
func (m *ListRoomsPacket) Validate() error            { return nil }
func (m *ListRoomsPacket) EncodeTo(w io.Writer) error { return nil }

func (m *ListRoomsPacket) Decode(payload []byte) error {
	return checkPayloadLength(OpListRooms, payload, 0)
}

// roomOp is the shared single-label payload of ListUsers, JoinRoom and LeaveRoom
type roomOp struct {
	Room string
}

func (m *roomOp) Validate() error {
	_, err := EncodeLabel(m.Room)
	return err
}

func (m *roomOp) EncodeTo(w io.Writer) error {
	return WriteLabel(w, m.Room)
}

func (m *roomOp) decode(op Opcode, payload []byte) error {
	if err := checkPayloadLength(op, payload, LabelLength); err != nil {
		return err
	}
	room, err := DecodeLabel(payload)
	if err != nil {
		return err
	}
	m.Room = room
	return nil
}

// ListUsersPacket (0x04) - Request the members of a room
type ListUsersPacket roomOp

func (m *ListUsersPacket) Opcode() Opcode              { return OpListUsers }
func (m *ListUsersPacket) Validate() error             { return (*roomOp)(m).Validate() }
func (m *ListUsersPacket) EncodeTo(w io.Writer) error  { return (*roomOp)(m).EncodeTo(w) }
func (m *ListUsersPacket) Decode(payload []byte) error { return (*roomOp)(m).decode(OpListUsers, payload) }

// JoinRoomPacket (0x05) - Join a room, creating it if needed
type JoinRoomPacket roomOp

func (m *JoinRoomPacket) Opcode() Opcode              { return OpJoinRoom }
func (m *JoinRoomPacket) Validate() error             { return (*roomOp)(m).Validate() }
func (m *JoinRoomPacket) EncodeTo(w io.Writer) error  { return (*roomOp)(m).EncodeTo(w) }
func (m *JoinRoomPacket) Decode(payload []byte) error { return (*roomOp)(m).decode(OpJoinRoom, payload) }

// LeaveRoomPacket (0x06) - Leave a room
type LeaveRoomPacket roomOp

func (m *LeaveRoomPacket) Opcode() Opcode              { return OpLeaveRoom }
func (m *LeaveRoomPacket) Validate() error             { return (*roomOp)(m).Validate() }
func (m *LeaveRoomPacket) EncodeTo(w io.Writer) error  { return (*roomOp)(m).EncodeTo(w) }
func (m *LeaveRoomPacket) Decode(payload []byte) error { return (*roomOp)(m).decode(OpLeaveRoom, payload) }

// SendMsgPacket (0x07) - Send a message to a room or user
// Format: [Body (N bytes)][NUL][Target (32 bytes)]
type SendMsgPacket struct {
	Body   string
	Target string
}

func (m *SendMsgPacket) Opcode() Opcode { return OpSendMsg }

func (m *SendMsgPacket) Validate() error {
	if err := ValidateMessage(append([]byte(m.Body), 0)); err != nil {
		return err
	}
	_, err := EncodeLabel(m.Target)
	return err
}

func (m *SendMsgPacket) EncodeTo(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := WriteMessageBody(w, m.Body); err != nil {
		return err
	}
	return WriteLabel(w, m.Target)
}

// Decode slices the target from the tail; the body is whatever precedes it.
func (m *SendMsgPacket) Decode(payload []byte) error {
	if len(payload) < 1+LabelLength {
		return newError(CodeIllegalLength, "%s payload is %d bytes", OpSendMsg, len(payload))
	}
	split := len(payload) - LabelLength
	body, err := DecodeMessageBody(payload[:split])
	if err != nil {
		return err
	}
	target, err := DecodeLabel(payload[split:])
	if err != nil {
		return err
	}

	m.Body = body
	m.Target = target
	return nil
}

func writeLabels(w io.Writer, labels []string) error {
	for _, l := range labels {
		if err := WriteLabel(w, l); err != nil {
			return err
		}
	}
	return nil
}

func readLabels(payload []byte) ([]string, error) {
	if len(payload)%LabelLength != 0 {
		return nil, newError(CodeIllegalLength, "label list of %d bytes", len(payload))
	}
	var labels []string
	for off := 0; off < len(payload); off += LabelLength {
		l, err := DecodeLabel(payload[off : off+LabelLength])
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, nil
}

// ListRoomsRespPacket (0x08) - Every room name, in creation order
type ListRoomsRespPacket struct {
	Rooms []string
}

func (m *ListRoomsRespPacket) Opcode() Opcode { return OpListRoomsResp }

func (m *ListRoomsRespPacket) Validate() error {
	return writeLabels(io.Discard, m.Rooms)
}

func (m *ListRoomsRespPacket) EncodeTo(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return writeLabels(w, m.Rooms)
}

func (m *ListRoomsRespPacket) Decode(payload []byte) error {
	rooms, err := readLabels(payload)
	if err != nil {
		return err
	}
	m.Rooms = rooms
	return nil
}

// ListUsersRespPacket (0x09) - Members of a room
// Format: [Users (N × 32 bytes)][Room (32 bytes)]
type ListUsersRespPacket struct {
	Users []string
	Room  string
}

func (m *ListUsersRespPacket) Opcode() Opcode { return OpListUsersResp }

func (m *ListUsersRespPacket) Validate() error {
	if err := writeLabels(io.Discard, m.Users); err != nil {
		return err
	}
	_, err := EncodeLabel(m.Room)
	return err
}

func (m *ListUsersRespPacket) EncodeTo(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := writeLabels(w, m.Users); err != nil {
		return err
	}
	return WriteLabel(w, m.Room)
}

func (m *ListUsersRespPacket) Decode(payload []byte) error {
	if len(payload) < LabelLength {
		return newError(CodeIllegalLength, "%s payload is %d bytes", OpListUsersResp, len(payload))
	}
	split := len(payload) - LabelLength
	users, err := readLabels(payload[:split])
	if err != nil {
		return err
	}
	room, err := DecodeLabel(payload[split:])
	if err != nil {
		return err
	}

	m.Users = users
	m.Room = room
	return nil
}

// TellMsgPacket (0x0A) - Message delivered to a room member or private recipient
// Format: [Body (N bytes)][NUL][Sender (32 bytes)][Target (32 bytes)]
type TellMsgPacket struct {
	Body   string
	Sender string
	Target string
}

func (m *TellMsgPacket) Opcode() Opcode { return OpTellMsg }

func (m *TellMsgPacket) Validate() error {
	if err := ValidateMessage(append([]byte(m.Body), 0)); err != nil {
		return err
	}
	if _, err := EncodeLabel(m.Sender); err != nil {
		return err
	}
	_, err := EncodeLabel(m.Target)
	return err
}

func (m *TellMsgPacket) EncodeTo(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := WriteMessageBody(w, m.Body); err != nil {
		return err
	}
	if err := WriteLabel(w, m.Sender); err != nil {
		return err
	}
	return WriteLabel(w, m.Target)
}

// Decode takes the target from the last 32 bytes and the sender from the 32 before it.
func (m *TellMsgPacket) Decode(payload []byte) error {
	if len(payload) < 1+2*LabelLength {
		return newError(CodeIllegalLength, "%s payload is %d bytes", OpTellMsg, len(payload))
	}
	targetAt := len(payload) - LabelLength
	senderAt := targetAt - LabelLength
	body, err := DecodeMessageBody(payload[:senderAt])
	if err != nil {
		return err
	}
	sender, err := DecodeLabel(payload[senderAt:targetAt])
	if err != nil {
		return err
	}
	target, err := DecodeLabel(payload[targetAt:])
	if err != nil {
		return err
	}

	m.Body = body
	m.Sender = sender
	m.Target = target
	return nil
}
