package client

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	UI         UISection         `toml:"ui"`
}

type ConnectionSection struct {
	DefaultServer       string `toml:"default_server"`
	DefaultPort         int    `toml:"default_port"`
	Username            string `toml:"username"`
	KeepaliveSeconds    int    `toml:"keepalive_seconds"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	ThrottleBytesPerSec int    `toml:"throttle_bytes_per_sec"`
}

type UISection struct {
	ShowTimestamps  bool   `toml:"show_timestamps"`
	TimestampFormat string `toml:"timestamp_format"` // 'relative' or a Go time layout
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Path, e.Message, e.LineNumber)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			DefaultServer:    "localhost",
			DefaultPort:      protocol.DefaultPort,
			KeepaliveSeconds: int(defaultKeepaliveInterval / time.Second),
			TimeoutSeconds:   5,
		},
		UI: UISection{
			ShowTimestamps:  true,
			TimestampFormat: "15:04:05",
		},
	}
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found.
// Keys missing from the file keep their default values.
func LoadClientConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	config := DefaultTOMLConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// If we can't write, just return defaults (might be a read-only home)
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    strings.TrimPrefix(err.Error(), "toml: "),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{Path: path, Message: err.Error()}
	}

	return config, nil
}

var lineNumberPattern = regexp.MustCompile(`line (\d+)`)

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	matches := lineNumberPattern.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

func validateConfig(config *TOMLConfig) error {
	var problems []string

	if config.Connection.DefaultPort < 1 || config.Connection.DefaultPort > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port number: %d (must be 1-65535)", config.Connection.DefaultPort))
	}
	if config.Connection.Username != "" {
		if !protocol.ValidLabel(config.Connection.Username) {
			problems = append(problems, fmt.Sprintf("invalid username %q", config.Connection.Username))
		}
	}
	if config.Connection.TimeoutSeconds < 0 {
		problems = append(problems, "timeout cannot be negative")
	}
	if config.Connection.ThrottleBytesPerSec < 0 {
		problems = append(problems, "throttle cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Chatroom Client Configuration
# This file was auto-generated with default values

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ServerAddress returns the full server address (host:port or a URL)
func (c *TOMLConfig) ServerAddress() string {
	server := strings.TrimSpace(c.Connection.DefaultServer)
	if server == "" || strings.Contains(server, "://") {
		return server
	}
	if c.Connection.DefaultPort <= 0 {
		return server
	}
	return fmt.Sprintf("%s:%d", server, c.Connection.DefaultPort)
}

// Options converts the connection section into dial options
func (c *TOMLConfig) Options() Options {
	opts := Options{ThrottleBytesPerSec: c.Connection.ThrottleBytesPerSec}
	switch {
	case c.Connection.KeepaliveSeconds > 0:
		opts.KeepaliveInterval = time.Duration(c.Connection.KeepaliveSeconds) * time.Second
	case c.Connection.KeepaliveSeconds < 0:
		opts.KeepaliveInterval = -1
	}
	return opts
}

// Timeout is the per-request timeout
func (c *TOMLConfig) Timeout() time.Duration {
	if c.Connection.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Connection.TimeoutSeconds) * time.Second
}

// TimestampLayout returns the layout FormatTell expects, empty when timestamps are off
func (c *TOMLConfig) TimestampLayout() string {
	if !c.UI.ShowTimestamps {
		return ""
	}
	if c.UI.TimestampFormat == "" {
		return "15:04:05"
	}
	return c.UI.TimestampFormat
}
