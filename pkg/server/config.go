package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/chatroom/pkg/logging"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Limits    LimitsSection    `toml:"limits"`
	Keepalive KeepaliveSection `toml:"keepalive"`
	Logging   logging.Config   `toml:"logging"`
}

type ServerSection struct {
	TCPPort       int    `toml:"tcp_port"`
	BindAddress   string `toml:"bind_address"`
	WebSocketAddr string `toml:"websocket_addr"`
	AdminAddr     string `toml:"admin_addr"`
}

type LimitsSection struct {
	MaxUsers            int     `toml:"max_users"`
	MaxRooms            int     `toml:"max_rooms"`
	ReadTimeoutSeconds  int     `toml:"read_timeout_seconds"`
	IdleTimeoutSeconds  int     `toml:"idle_timeout_seconds"`
	WriteTimeoutSeconds int     `toml:"write_timeout_seconds"`
	OutboxSize          int     `toml:"outbox_size"`
	PacketRate          float64 `toml:"packet_rate"`
	PacketBurst         int     `toml:"packet_burst"`
}

type KeepaliveSection struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	def := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			TCPPort: def.TCPPort,
		},
		Limits: LimitsSection{
			ReadTimeoutSeconds:  int(def.ReadTimeout / time.Second),
			WriteTimeoutSeconds: int(def.WriteTimeout / time.Second),
			OutboxSize:          def.OutboxSize,
			PacketRate:          def.PacketRate,
			PacketBurst:         def.PacketBurst,
		},
		Keepalive: KeepaliveSection{
			IntervalSeconds: int(def.KeepaliveInterval / time.Second),
		},
		Logging: logging.DefaultConfig(),
	}
}

// ExpandPath expands a leading ~/ to the user's home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// An unwritable location still leaves us with usable defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Chatroom Server Configuration
# This file was auto-generated with default values
# Zero limits mean "unlimited"; empty websocket_addr/admin_addr disable those listeners
# packet_rate is off by default; set it above zero to rate limit inbound packets

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	cfg.BindAddress = strings.TrimSpace(c.Server.BindAddress)
	cfg.WebSocketAddr = strings.TrimSpace(c.Server.WebSocketAddr)
	cfg.AdminAddr = strings.TrimSpace(c.Server.AdminAddr)

	if c.Limits.MaxUsers > 0 {
		cfg.MaxUsers = c.Limits.MaxUsers
	}
	if c.Limits.MaxRooms > 0 {
		cfg.MaxRooms = c.Limits.MaxRooms
	}
	if c.Limits.ReadTimeoutSeconds > 0 {
		cfg.ReadTimeout = time.Duration(c.Limits.ReadTimeoutSeconds) * time.Second
	}
	if c.Limits.IdleTimeoutSeconds > 0 {
		cfg.IdleTimeout = time.Duration(c.Limits.IdleTimeoutSeconds) * time.Second
	}
	if c.Limits.WriteTimeoutSeconds > 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}
	if c.Limits.OutboxSize > 0 {
		cfg.OutboxSize = c.Limits.OutboxSize
	}
	if c.Limits.PacketRate > 0 {
		cfg.PacketRate = c.Limits.PacketRate
	}
	if c.Limits.PacketBurst > 0 {
		cfg.PacketBurst = c.Limits.PacketBurst
	}

	if c.Keepalive.IntervalSeconds > 0 {
		cfg.KeepaliveInterval = time.Duration(c.Keepalive.IntervalSeconds) * time.Second
	}

	return cfg
}
