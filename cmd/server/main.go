package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/aeolun/chatroom/pkg/logging"
	"github.com/aeolun/chatroom/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "~/.chatroom/server.toml", "Path to config file")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	bind := flag.String("bind", "", "Address to bind the TCP listener to (overrides config)")
	wsAddr := flag.String("ws", "", "WebSocket gateway address, e.g. :8080 (overrides config)")
	adminAddr := flag.String("admin", "", "Admin API address, e.g. 127.0.0.1:9090 (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	jsonLogs := flag.Bool("json", false, "Log JSON instead of console output")
	pprofAddr := flag.String("pprof", "", "Serve pprof on this address, e.g. localhost:6060")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("chatroom server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file
	if *port != 0 {
		config.Server.TCPPort = *port
	}
	if *bind != "" {
		config.Server.BindAddress = *bind
	}
	if *wsAddr != "" {
		config.Server.WebSocketAddr = *wsAddr
	}
	if *adminAddr != "" {
		config.Server.AdminAddr = *adminAddr
	}
	if *logLevel != "" {
		config.Logging.Level = *logLevel
	}
	if *jsonLogs {
		config.Logging.JSON = true
	}

	logger := logging.Init(config.Logging)

	resolvedConfigPath, err := server.ExpandPath(*configPath)
	if err == nil {
		if absPath, err := filepath.Abs(resolvedConfigPath); err == nil {
			resolvedConfigPath = absPath
		}
	}
	logger.Info().Str("config", resolvedConfigPath).Msg("configuration loaded")

	serverConfig := config.ToServerConfig()
	srv := server.NewServer(serverConfig)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}

	logger.Info().
		Str("version", Version).
		Str("tcp", srv.Addr().String()).
		Int("max_users", serverConfig.MaxUsers).
		Int("max_rooms", serverConfig.MaxRooms).
		Dur("keepalive", serverConfig.KeepaliveInterval).
		Msg("chatroom server started")
	if addr := srv.WebSocketAddr(); addr != nil {
		logger.Info().Str("url", fmt.Sprintf("ws://%s/ws", addr)).Msg("WebSocket clients accepted")
	}
	if addr := srv.AdminAddr(); addr != nil {
		logger.Info().Str("url", fmt.Sprintf("http://%s/api/rooms", addr)).Msg("admin API available")
	}

	if *pprofAddr != "" {
		go func() {
			logger.Info().Str("addr", *pprofAddr).Msg("starting pprof server")
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Error().Err(err).Msg("pprof server error")
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	if err := srv.Stop(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	logger.Info().Msg("server stopped")
}
