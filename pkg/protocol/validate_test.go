package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func label(s string) []byte {
	field := make([]byte, LabelLength)
	copy(field, s)
	return field
}

func TestValidateLabel(t *testing.T) {
	full := bytes.Repeat([]byte("a"), LabelLength)

	tests := []struct {
		name  string
		field []byte
		ok    bool
	}{
		{"simple", label("alice"), true},
		{"inner space", label("my room"), true},
		{"punctuation", label("~!@#$%^&*()"), true},
		{"exactly 32 no terminator", full, true},
		{"short field with terminator", []byte("ab\x00"), true},
		{"empty", label(""), false},
		{"leading space", label(" alice"), false},
		{"trailing space", label("alice "), false},
		{"only space", label(" "), false},
		{"tab", label("a\tb"), false},
		{"newline", label("a\nb"), true},
		{"high byte", label("caf\xe9"), false},
		{"delete char", label("a\x7f"), false},
		{"nul then content", append([]byte("ab\x00c"), make([]byte, 28)...), false},
		{"short unterminated", []byte("abc"), false},
		{"too long", append(full, 'a'), false},
		{"zero length", []byte{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLabel(tt.field)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrIllegalLabel)
		})
	}
}

func TestValidLabel(t *testing.T) {
	assert.True(t, ValidLabel("alice"))
	assert.True(t, ValidLabel(string(bytes.Repeat([]byte("z"), 32))))
	assert.False(t, ValidLabel(string(bytes.Repeat([]byte("z"), 33))))
	assert.False(t, ValidLabel("al\x00ice"))
	assert.False(t, ValidLabel(""))
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		ok   bool
	}{
		{"simple", []byte("hello\x00"), true},
		{"terminator only", []byte{0}, true},
		{"crlf", []byte("a\r\nb\x00"), true},
		{"max length", append(bytes.Repeat([]byte("x"), MaxMessageLength-1), 0), true},
		{"over max", append(bytes.Repeat([]byte("x"), MaxMessageLength), 0), false},
		{"missing terminator", []byte("hello"), false},
		{"empty", []byte{}, false},
		{"embedded nul", []byte("he\x00llo\x00"), false},
		{"tab", []byte("a\tb\x00"), false},
		{"bell", []byte("\a\x00"), false},
		{"non ascii", []byte("\xc3\xa9\x00"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.raw)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrIllegalMessage)
		})
	}
}

func TestLabelEncodingPadsWithNul(t *testing.T) {
	field, err := EncodeLabel("dev")
	require.NoError(t, err)
	assert.Equal(t, []byte("dev"), field[:3])
	assert.Equal(t, make([]byte, 29), field[3:])

	s, err := DecodeLabel(field[:])
	require.NoError(t, err)
	assert.Equal(t, "dev", s)
}

func TestMessageBodyTerminator(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteMessageBody(buf, "hi"))
	assert.Equal(t, []byte{'h', 'i', 0}, buf.Bytes())

	body, err := DecodeMessageBody(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hi", body)
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, "ILLEGAL_MSG", CodeIllegalMessage.String())
	assert.Equal(t, "TOO_MANY_ROOMS", CodeTooManyRooms.String())
	assert.Equal(t, "ERR_0x42", ErrorCode(0x42).String())
	assert.True(t, CodeNameExists.Valid())
	assert.False(t, ErrorCode(0x0F).Valid())

	err := newError(CodeNameExists, "alice")
	assert.ErrorIs(t, err, ErrNameExists)
	assert.NotErrorIs(t, err, ErrTooManyUsers)
	assert.Equal(t, CodeNameExists, CodeOf(err))
	assert.Equal(t, "protocol: NAME_EXISTS: alice", err.Error())
	assert.Equal(t, CodeUnknown, CodeOf(assert.AnError))
}
