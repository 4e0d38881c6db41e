package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLength is the size of the opcode + length prefix of every packet
	HeaderLength = 5

	// MaxPacketLength bounds the declared payload length of any packet (1 MB)
	MaxPacketLength = 1024 * 1024

	// ProtocolVersion is the only version accepted in a Hello
	ProtocolVersion uint16 = 0x1337

	// DefaultPort is the well-known TCP port of the chat service
	DefaultPort = 7734
)

var ErrShortHeader = errors.New("protocol: short header")

// Header is the fixed wire header
// Format: [Opcode (1 byte)][Length (4 bytes, big-endian)]
// Length counts every byte following the header.
type Header struct {
	Opcode Opcode
	Length uint32
}

// EncodeHeader returns the 5-byte wire form of h
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLength)
	buf[0] = uint8(h.Opcode)
	binary.BigEndian.PutUint32(buf[1:], h.Length)
	return buf
}

// DecodeHeader parses and validates exactly HeaderLength bytes
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLength {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(b))
	}
	h := Header{
		Opcode: Opcode(b[0]),
		Length: binary.BigEndian.Uint32(b[1:]),
	}
	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Validate checks the opcode and that Length is possible for the variant.
// Fixed-size variants must match exactly. SendMsg and TellMsg only need room for
// their labels and a terminator; an oversized body is ILLEGAL_MSG, found when
// the body is decoded. Err and Keepalive are only checked against MaxPacketLength.
func (h Header) Validate() error {
	if !h.Opcode.Valid() {
		return newError(CodeIllegalOpcode, "opcode 0x%02X", uint8(h.Opcode))
	}
	if h.Length > MaxPacketLength {
		return newError(CodeIllegalLength, "length %d exceeds %d", h.Length, MaxPacketLength)
	}

	ok := true
	switch h.Opcode {
	case OpErr, OpKeepalive:
	case OpHello:
		ok = h.Length == helloLength
	case OpListRooms:
		ok = h.Length == 0
	case OpListUsers, OpJoinRoom, OpLeaveRoom:
		ok = h.Length == LabelLength
	case OpSendMsg:
		ok = h.Length >= 1+LabelLength
	case OpTellMsg:
		ok = h.Length >= 1+2*LabelLength
	case OpListRoomsResp:
		ok = h.Length%LabelLength == 0
	case OpListUsersResp:
		ok = h.Length%LabelLength == 0 && h.Length >= LabelLength
	}
	if !ok {
		return newError(CodeIllegalLength, "length %d invalid for %s", h.Length, h.Opcode)
	}
	return nil
}

// Marshal validates p and returns header + payload bytes
func Marshal(p Packet) ([]byte, error) {
	payload := new(bytes.Buffer)
	if err := p.EncodeTo(payload); err != nil {
		return nil, err
	}
	h := Header{Opcode: p.Opcode(), Length: uint32(payload.Len())}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderLength+payload.Len())
	out = append(out, EncodeHeader(h)...)
	out = append(out, payload.Bytes()...)
	return out, nil
}

// WritePacket encodes p and writes it with a single Write call
func WritePacket(w io.Writer, p Packet) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadPacket reads one header, then exactly header.Length payload bytes, and
// decodes the variant. A clean EOF before the first header byte is returned as io.EOF.
func ReadPacket(r io.Reader) (Packet, error) {
	hb := make([]byte, HeaderLength)
	if _, err := io.ReadFull(r, hb); err != nil {
		return nil, err
	}
	h, err := DecodeHeader(hb)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return DecodePayload(h, payload)
}

// Unmarshal decodes one complete packet from data; trailing bytes are an error
func Unmarshal(data []byte) (Packet, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(data))
	}
	h, err := DecodeHeader(data[:HeaderLength])
	if err != nil {
		return nil, err
	}
	payload := data[HeaderLength:]
	if uint32(len(payload)) != h.Length {
		return nil, newError(CodeIllegalLength, "declared %d bytes, got %d", h.Length, len(payload))
	}
	return DecodePayload(h, payload)
}

// DecodePayload builds the packet variant named by h from its payload
func DecodePayload(h Header, payload []byte) (Packet, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if uint32(len(payload)) != h.Length {
		return nil, newError(CodeIllegalLength, "declared %d bytes, got %d", h.Length, len(payload))
	}
	p := newPacket(h.Opcode)
	if err := p.Decode(payload); err != nil {
		return nil, err
	}
	return p, nil
}
