package server

import (
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aeolun/chatroom/pkg/wsconn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades the request and serves it through the same
// connection state machine as a TCP client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := wsconn.New(ws)
	if !s.beginConn() {
		conn.Close()
		return
	}
	s.serveConn(conn, "websocket")
}

// startWebSocketGateway binds addr and serves WebSocket upgrades on wsconn.Path
func (s *Server) startWebSocketGateway(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.wsAddr = listener.Addr()

	mux := http.NewServeMux()
	mux.HandleFunc(wsconn.Path, s.handleWebSocket)
	s.wsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.wsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("websocket gateway stopped")
		}
	}()

	s.log.Info().Str("addr", s.wsAddr.String()).Str("path", wsconn.Path).Msg("WebSocket gateway listening")
	return nil
}
