//go:build !linux

package server

import "github.com/rs/zerolog"

// logListenBacklog logs the listen address (non-Linux systems)
func logListenBacklog(logger zerolog.Logger, addr string) {
	logger.Info().Str("addr", addr).Msg("TCP server listening")
}

// monitorListenOverflows is a no-op on non-Linux systems
func (s *Server) monitorListenOverflows() {
	s.wg.Done()
}
