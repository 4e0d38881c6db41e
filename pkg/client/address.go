package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/aeolun/chatroom/pkg/protocol"
	"github.com/aeolun/chatroom/pkg/wsconn"
)

var defaultTCPPort = strconv.Itoa(protocol.DefaultPort)

// dialConfig is a parsed server address
type dialConfig struct {
	display string
	dial    func(ctx context.Context) (net.Conn, error)
}

// parseServerAddress accepts host, host:port, tcp://host:port, ws://host:port and wss://host:port.
// The TCP port defaults to the protocol's well-known port.
func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}
		hostPort = u.Host
		if hostPort == "" {
			hostPort = strings.TrimPrefix(u.Path, "//")
		}
	}

	switch scheme {
	case "tcp":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}
		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			dial: func(ctx context.Context) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "tcp", address)
			},
		}, nil

	case "ws", "wss":
		defaultPort := "80"
		if scheme == "wss" {
			defaultPort = "443"
		}
		host, port, err := splitHostPortWithDefault(hostPort, defaultPort)
		if err != nil {
			return nil, err
		}
		address := net.JoinHostPort(host, port)
		useTLS := scheme == "wss"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s%s", scheme, address, wsconn.Path),
			dial: func(ctx context.Context) (net.Conn, error) {
				return wsconn.Dial(ctx, address, useTLS)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		if host == "" {
			host = "localhost"
		}
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		return strings.Trim(hostPort, "[]"), defaultPort, nil
	}
	return "", "", fmt.Errorf("invalid server address %q: %w", hostPort, err)
}
