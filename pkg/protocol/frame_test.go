package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Opcode: OpJoinRoom, Length: LabelLength}
	data := EncodeHeader(h)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00, 0x20}, data)

	decoded, err := DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, err := DecodeHeader([]byte{0x01, 0x00})
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestHeaderValidate(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		want   error
	}{
		{"keepalive empty", Header{OpKeepalive, 0}, nil},
		{"keepalive with junk", Header{OpKeepalive, 9}, nil},
		{"err one byte", Header{OpErr, 1}, nil},
		{"hello exact", Header{OpHello, 34}, nil},
		{"hello short", Header{OpHello, 33}, ErrIllegalLength},
		{"hello long", Header{OpHello, 35}, ErrIllegalLength},
		{"list rooms empty", Header{OpListRooms, 0}, nil},
		{"list rooms with payload", Header{OpListRooms, 1}, ErrIllegalLength},
		{"list users label", Header{OpListUsers, 32}, nil},
		{"join short", Header{OpJoinRoom, 31}, ErrIllegalLength},
		{"leave long", Header{OpLeaveRoom, 33}, ErrIllegalLength},
		{"send min", Header{OpSendMsg, 33}, nil},
		{"send below min", Header{OpSendMsg, 32}, ErrIllegalLength},
		{"send max", Header{OpSendMsg, 8031}, nil},
		{"send body too long is not a length error", Header{OpSendMsg, 8032}, nil},
		{"tell min", Header{OpTellMsg, 65}, nil},
		{"tell below min", Header{OpTellMsg, 64}, ErrIllegalLength},
		{"tell max", Header{OpTellMsg, 8063}, nil},
		{"tell body too long is not a length error", Header{OpTellMsg, 8064}, nil},
		{"rooms resp empty", Header{OpListRoomsResp, 0}, nil},
		{"rooms resp two", Header{OpListRoomsResp, 64}, nil},
		{"rooms resp ragged", Header{OpListRoomsResp, 40}, ErrIllegalLength},
		{"users resp room only", Header{OpListUsersResp, 32}, nil},
		{"users resp empty", Header{OpListUsersResp, 0}, ErrIllegalLength},
		{"users resp ragged", Header{OpListUsersResp, 70}, ErrIllegalLength},
		{"unknown opcode", Header{Opcode(0x0B), 0}, ErrIllegalOpcode},
		{"high opcode", Header{Opcode(0xFF), 0}, ErrIllegalOpcode},
		{"huge length", Header{OpKeepalive, MaxPacketLength + 1}, ErrIllegalLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.header.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarshalKeepalive(t *testing.T) {
	data, err := Marshal(&KeepalivePacket{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00, 0x00}, data)
}

func TestMarshalHelloLayout(t *testing.T) {
	data, err := Marshal(NewHello("alice"))
	require.NoError(t, err)
	require.Len(t, data, HeaderLength+34)

	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x22}, data[:HeaderLength])
	assert.Equal(t, []byte("alice"), data[5:10])
	assert.Equal(t, make([]byte, 27), data[10:37])
	assert.Equal(t, []byte{0x13, 0x37}, data[37:])
}

func TestMarshalSendMsgLayout(t *testing.T) {
	data, err := Marshal(&SendMsgPacket{Body: "hi", Target: "lobby"})
	require.NoError(t, err)

	// header + "hi\x00" + 32-byte room label
	require.Len(t, data, HeaderLength+3+LabelLength)
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x00, 0x23}, data[:HeaderLength])
	assert.Equal(t, []byte{'h', 'i', 0}, data[5:8])
	assert.Equal(t, []byte("lobby"), data[8:13])
}

func TestMarshalTellMsgLayout(t *testing.T) {
	data, err := Marshal(&TellMsgPacket{Body: "yo", Sender: "bob", Target: "lobby"})
	require.NoError(t, err)

	require.Len(t, data, HeaderLength+3+2*LabelLength)
	assert.Equal(t, []byte("bob"), data[8:11])
	assert.Equal(t, []byte("lobby"), data[40:45])
}

func TestWriteReadPacket(t *testing.T) {
	packets := []Packet{
		&ErrPacket{Code: CodeNameExists},
		&KeepalivePacket{},
		NewHello("alice"),
		&ListRoomsPacket{},
		&ListUsersPacket{Room: "lobby"},
		&JoinRoomPacket{Room: "lobby"},
		&LeaveRoomPacket{Room: "lobby"},
		&SendMsgPacket{Body: "hello\r\nworld", Target: "lobby"},
		&ListRoomsRespPacket{Rooms: []string{"lobby", "dev"}},
		&ListUsersRespPacket{Users: []string{"alice", "bob"}, Room: "lobby"},
		&TellMsgPacket{Body: "hi", Sender: "alice", Target: "lobby"},
	}

	buf := new(bytes.Buffer)
	for _, p := range packets {
		require.NoError(t, WritePacket(buf, p))
	}

	for _, want := range packets {
		got, err := ReadPacket(buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ReadPacket(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadPacketPartialReads(t *testing.T) {
	data, err := Marshal(&SendMsgPacket{Body: "split across reads", Target: "lobby"})
	require.NoError(t, err)

	// OneByteReader forces the payload to arrive one byte at a time
	p, err := ReadPacket(iotest.OneByteReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, &SendMsgPacket{Body: "split across reads", Target: "lobby"}, p)
}

func TestReadPacketErrors(t *testing.T) {
	t.Run("empty stream", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader([]byte{0x01, 0x00}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated payload", func(t *testing.T) {
		data, err := Marshal(&JoinRoomPacket{Room: "lobby"})
		require.NoError(t, err)
		_, err = ReadPacket(bytes.NewReader(data[:20]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("unknown opcode", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader([]byte{0x0B, 0, 0, 0, 0}))
		assert.ErrorIs(t, err, ErrIllegalOpcode)
		assert.Equal(t, CodeIllegalOpcode, CodeOf(err))
	})

	t.Run("bad declared length", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader([]byte{0x03, 0, 0, 0, 1, 0xAA}))
		assert.ErrorIs(t, err, ErrIllegalLength)
	})

	t.Run("transport error is passed through", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := ReadPacket(iotest.ErrReader(boom))
		assert.ErrorIs(t, err, boom)
		assert.False(t, IsProtocolError(err))
	})
}

func TestUnmarshal(t *testing.T) {
	data, err := Marshal(&ListUsersPacket{Room: "lobby"})
	require.NoError(t, err)

	p, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, &ListUsersPacket{Room: "lobby"}, p)

	_, err = Unmarshal(append(data, 0x00))
	assert.ErrorIs(t, err, ErrIllegalLength)

	_, err = Unmarshal(data[:3])
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestMarshalRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   error
	}{
		{"hello empty username", NewHello(""), ErrIllegalLabel},
		{"hello wrong version", &HelloPacket{Username: "alice", Version: 1}, ErrWrongVersion},
		{"join long room", &JoinRoomPacket{Room: string(bytes.Repeat([]byte("r"), 33))}, ErrIllegalLabel},
		{"send tab in body", &SendMsgPacket{Body: "a\tb", Target: "lobby"}, ErrIllegalMessage},
		{"send empty target", &SendMsgPacket{Body: "hi", Target: ""}, ErrIllegalLabel},
		{"send oversized", &SendMsgPacket{Body: string(bytes.Repeat([]byte("x"), MaxMessageLength)), Target: "lobby"}, ErrIllegalMessage},
		{"tell bad sender", &TellMsgPacket{Body: "hi", Sender: " bob", Target: "lobby"}, ErrIllegalLabel},
		{"rooms resp bad label", &ListRoomsRespPacket{Rooms: []string{"ok", "bad\x00"}}, ErrIllegalLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Marshal(tt.packet)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSendMsgMaximumBody(t *testing.T) {
	body := string(bytes.Repeat([]byte("x"), MaxMessageLength-1))
	data, err := Marshal(&SendMsgPacket{Body: body, Target: "lobby"})
	require.NoError(t, err)
	assert.Len(t, data, HeaderLength+MaxMessageLength+LabelLength)

	p, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, body, p.(*SendMsgPacket).Body)

	// one byte more than the limit is a bad message, not a bad length
	over := append(bytes.Repeat([]byte("x"), MaxMessageLength), 0)
	over = append(over, make([]byte, LabelLength)...)
	copy(over[MaxMessageLength+1:], "lobby")
	raw := append(EncodeHeader(Header{Opcode: OpSendMsg, Length: uint32(len(over))}), over...)

	_, err = Unmarshal(raw)
	assert.ErrorIs(t, err, ErrIllegalMessage)
	assert.Equal(t, CodeIllegalMessage, CodeOf(err))

	_, err = ReadPacket(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrIllegalMessage)
}

func TestTellMsgOversizedBody(t *testing.T) {
	over := append(bytes.Repeat([]byte("x"), MaxMessageLength), 0)
	over = append(over, make([]byte, 2*LabelLength)...)
	copy(over[MaxMessageLength+1:], "bob")
	copy(over[MaxMessageLength+1+LabelLength:], "lobby")
	raw := append(EncodeHeader(Header{Opcode: OpTellMsg, Length: uint32(len(over))}), over...)

	_, err := Unmarshal(raw)
	assert.ErrorIs(t, err, ErrIllegalMessage)
}
