package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
)

const (
	// LabelLength is the fixed wire width of every label field
	LabelLength = 32

	// MaxMessageLength is the maximum message body size including its NUL terminator
	MaxMessageLength = 7999
)

// WriteUint8 writes a single byte
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint8 reads a single byte
func ReadUint8(r io.Reader) (uint8, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteUint16 writes a 16-bit unsigned integer in big-endian
func WriteUint16(w io.Writer, v uint16) error {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint16 reads a 16-bit unsigned integer in big-endian
func ReadUint16(r io.Reader) (uint16, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// WriteUint32 writes a 32-bit unsigned integer in big-endian
func WriteUint32(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint32 reads a 32-bit unsigned integer in big-endian
func ReadUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// EncodeLabel validates s and returns its 32-byte NUL-padded wire form
func EncodeLabel(s string) ([LabelLength]byte, error) {
	var field [LabelLength]byte
	if len(s) > LabelLength {
		return field, newError(CodeIllegalLabel, "label %q exceeds %d bytes", s, LabelLength)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return field, newError(CodeIllegalLabel, "embedded NUL in label %q", s)
	}
	copy(field[:], s)
	if _, err := DecodeLabel(field[:]); err != nil {
		return field, err
	}
	return field, nil
}

// WriteLabel writes s as a 32-byte NUL-padded label
// Format: [Content (1-32 bytes ASCII)][NUL padding up to 32 bytes]
func WriteLabel(w io.Writer, s string) error {
	field, err := EncodeLabel(s)
	if err != nil {
		return err
	}
	_, err = w.Write(field[:])
	return err
}

// ReadLabel reads and validates one 32-byte label field
func ReadLabel(r io.Reader) (string, error) {
	field := make([]byte, LabelLength)
	if _, err := io.ReadFull(r, field); err != nil {
		return "", err
	}
	return DecodeLabel(field)
}

// DecodeLabel validates a raw 32-byte label field and strips its padding
func DecodeLabel(field []byte) (string, error) {
	if err := ValidateLabel(field); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i]), nil
	}
	return string(field), nil
}

// WriteMessageBody writes body followed by its NUL terminator
func WriteMessageBody(w io.Writer, body string) error {
	raw := make([]byte, 0, len(body)+1)
	raw = append(raw, body...)
	raw = append(raw, 0)
	if err := ValidateMessage(raw); err != nil {
		return err
	}
	_, err := w.Write(raw)
	return err
}

// DecodeMessageBody validates a NUL-terminated body and returns it without the terminator
func DecodeMessageBody(raw []byte) (string, error) {
	if err := ValidateMessage(raw); err != nil {
		return "", err
	}
	return string(raw[:len(raw)-1]), nil
}
