package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is the 1-byte payload of an Err packet
type ErrorCode uint8

// Error codes
const (
	CodeUnknown        ErrorCode = 0x10
	CodeIllegalOpcode  ErrorCode = 0x11
	CodeIllegalLength  ErrorCode = 0x12
	CodeIllegalLabel   ErrorCode = 0x13
	CodeIllegalMessage ErrorCode = 0x14
	CodeWrongVersion   ErrorCode = 0x15
	CodeNameExists     ErrorCode = 0x16
	CodeTooManyUsers   ErrorCode = 0x17
	CodeTooManyRooms   ErrorCode = 0x18
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnknown:
		return "UNKNOWN"
	case CodeIllegalOpcode:
		return "ILLEGAL_OPCODE"
	case CodeIllegalLength:
		return "ILLEGAL_LENGTH"
	case CodeIllegalLabel:
		return "ILLEGAL_LABEL"
	case CodeIllegalMessage:
		return "ILLEGAL_MSG"
	case CodeWrongVersion:
		return "WRONG_VERSION"
	case CodeNameExists:
		return "NAME_EXISTS"
	case CodeTooManyUsers:
		return "TOO_MANY_USERS"
	case CodeTooManyRooms:
		return "TOO_MANY_ROOMS"
	default:
		return fmt.Sprintf("ERR_0x%02X", uint8(c))
	}
}

// Valid reports whether c is one of the codes defined by the protocol
func (c ErrorCode) Valid() bool {
	return c >= CodeUnknown && c <= CodeTooManyRooms
}

// Error is a protocol violation carrying the wire code reported to the peer
type Error struct {
	Code   ErrorCode
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "protocol: " + e.Code.String()
	}
	return fmt.Sprintf("protocol: %s: %s", e.Code, e.Detail)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrIllegalLabel) works
// regardless of the detail text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnknown        = &Error{Code: CodeUnknown}
	ErrIllegalOpcode  = &Error{Code: CodeIllegalOpcode}
	ErrIllegalLength  = &Error{Code: CodeIllegalLength}
	ErrIllegalLabel   = &Error{Code: CodeIllegalLabel}
	ErrIllegalMessage = &Error{Code: CodeIllegalMessage}
	ErrWrongVersion   = &Error{Code: CodeWrongVersion}
	ErrNameExists     = &Error{Code: CodeNameExists}
	ErrTooManyUsers   = &Error{Code: CodeTooManyUsers}
	ErrTooManyRooms   = &Error{Code: CodeTooManyRooms}
)

func newError(code ErrorCode, format string, args ...any) error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf returns the wire code for err, or CodeUnknown if err is not a protocol error
func CodeOf(err error) ErrorCode {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return CodeUnknown
}

// IsProtocolError reports whether err (or anything it wraps) is a protocol violation
func IsProtocolError(err error) bool {
	var perr *Error
	return errors.As(err, &perr)
}
