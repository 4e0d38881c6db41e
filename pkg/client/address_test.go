package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerAddress(t *testing.T) {
	tests := []struct {
		input   string
		display string
	}{
		{"localhost", "localhost:7734"},
		{"localhost:9000", "localhost:9000"},
		{"  chat.example.com  ", "chat.example.com:7734"},
		{"tcp://chat.example.com", "chat.example.com:7734"},
		{"tcp://chat.example.com:1234", "chat.example.com:1234"},
		{"[::1]", "[::1]:7734"},
		{"[::1]:8000", "[::1]:8000"},
		{":7000", "localhost:7000"},
		{"ws://chat.example.com:8080", "ws://chat.example.com:8080/ws"},
		{"ws://chat.example.com", "ws://chat.example.com:80/ws"},
		{"wss://chat.example.com", "wss://chat.example.com:443/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg, err := parseServerAddress(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.display, cfg.display)
			assert.NotNil(t, cfg.dial)
		})
	}
}

func TestParseServerAddressErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "ssh://chat.example.com", "tcp://", "host:1:2"} {
		t.Run(input, func(t *testing.T) {
			_, err := parseServerAddress(input)
			assert.Error(t, err)
		})
	}
}
