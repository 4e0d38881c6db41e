package protocol

import "bytes"

// isAllowedChar reports whether b may appear in label or message content:
// printable ASCII plus CR and LF.
func isAllowedChar(b byte) bool {
	return (b >= 0x20 && b <= 0x7E) || b == '\n' || b == '\r'
}

// ValidateLabel checks a raw label field as it appears on the wire.
// A field shorter than LabelLength must carry a NUL terminator; everything after
// the first NUL must be padding.
func ValidateLabel(field []byte) error {
	if len(field) < 1 || len(field) > LabelLength {
		return newError(CodeIllegalLabel, "label field length %d", len(field))
	}

	content := field
	if i := bytes.IndexByte(field, 0); i >= 0 {
		content = field[:i]
		for _, b := range field[i:] {
			if b != 0 {
				return newError(CodeIllegalLabel, "embedded NUL in label")
			}
		}
	} else if len(field) < LabelLength {
		return newError(CodeIllegalLabel, "unterminated label")
	}

	if len(content) == 0 {
		return newError(CodeIllegalLabel, "empty label")
	}
	if content[0] == ' ' || content[len(content)-1] == ' ' {
		return newError(CodeIllegalLabel, "leading or trailing space in label %q", content)
	}
	for _, b := range content {
		if !isAllowedChar(b) {
			return newError(CodeIllegalLabel, "illegal character 0x%02X in label", b)
		}
	}
	return nil
}

// ValidLabel reports whether s is acceptable as a username or room name
func ValidLabel(s string) bool {
	_, err := EncodeLabel(s)
	return err == nil
}

// ValidateMessage checks a raw message body including its NUL terminator
func ValidateMessage(raw []byte) error {
	if len(raw) == 0 || raw[len(raw)-1] != 0 {
		return newError(CodeIllegalMessage, "message is not NUL terminated")
	}
	if len(raw) > MaxMessageLength {
		return newError(CodeIllegalMessage, "message length %d exceeds %d", len(raw), MaxMessageLength)
	}
	for _, b := range raw[:len(raw)-1] {
		if b == 0 {
			return newError(CodeIllegalMessage, "embedded NUL in message")
		}
		if !isAllowedChar(b) {
			return newError(CodeIllegalMessage, "illegal character 0x%02X in message", b)
		}
	}
	return nil
}

// ValidMessage reports whether body (without terminator) can be sent as a message
func ValidMessage(body string) bool {
	raw := append([]byte(body), 0)
	return ValidateMessage(raw) == nil
}
