package server

import (
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aeolun/chatroom/pkg/logging"
)

// RoomInfo is the admin view of a room
type RoomInfo struct {
	Name      string    `json:"name"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// UserInfo is the admin view of a registered user
type UserInfo struct {
	Name         string    `json:"name"`
	ConnID       string    `json:"conn_id"`
	Remote       string    `json:"remote"`
	Transport    string    `json:"transport"`
	Rooms        []string  `json:"rooms"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ConnInfo is the admin view of an open connection, registered or not
type ConnInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	Transport   string    `json:"transport"`
	State       string    `json:"state"`
	Username    string    `json:"username,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// AdminAPI is a read-only HTTP view of the server's registries plus its metrics
type AdminAPI struct {
	server     *Server
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	log        zerolog.Logger
}

// NewAdminAPI builds the router for s
func NewAdminAPI(s *Server) *AdminAPI {
	gin.SetMode(gin.ReleaseMode)

	a := &AdminAPI{
		server: s,
		log:    logging.Component("admin"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.log))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", a.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/rooms", a.handleRooms)
	api.GET("/rooms/:name/users", a.handleRoomUsers)
	api.GET("/users", a.handleUsers)
	api.GET("/connections", a.handleConnections)

	a.router = r
	return a
}

// Handler exposes the router, mainly for tests
func (a *AdminAPI) Handler() http.Handler {
	return a.router
}

// Start binds addr and serves in the background
func (a *AdminAPI) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.listener = listener
	a.httpServer = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.server.wg.Add(1)
	go func() {
		defer a.server.wg.Done()
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("admin api stopped")
		}
	}()

	a.log.Info().Str("addr", listener.Addr().String()).Msg("admin API listening")
	return nil
}

// Addr returns the bound address, or nil before Start
func (a *AdminAPI) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Close stops the HTTP server
func (a *AdminAPI) Close() error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Close()
}

func (a *AdminAPI) handleHealth(c *gin.Context) {
	reactor := a.server.reactor
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"users":  reactor.Sessions().Count(),
		"rooms":  reactor.Rooms().Count(),
	})
}

func (a *AdminAPI) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.reactor.Rooms().Snapshot())
}

func (a *AdminAPI) handleRoomUsers(c *gin.Context) {
	name := c.Param("name")
	rooms := a.server.reactor.Rooms()
	if !rooms.Exists(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":  name,
		"users": rooms.Usernames(name),
	})
}

func (a *AdminAPI) handleUsers(c *gin.Context) {
	reactor := a.server.reactor
	users := reactor.Sessions().All()

	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		rooms := reactor.Rooms().RoomsOf(u)
		if rooms == nil {
			rooms = []string{}
		}
		infos = append(infos, UserInfo{
			Name:         u.Name,
			ConnID:       u.Conn.ID.String(),
			Remote:       u.Conn.RemoteAddr(),
			Transport:    u.Conn.Transport,
			Rooms:        rooms,
			RegisteredAt: u.RegisteredAt,
		})
	}
	c.JSON(http.StatusOK, infos)
}

func (a *AdminAPI) handleConnections(c *gin.Context) {
	conns := a.server.Connections()
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})

	infos := make([]ConnInfo, 0, len(conns))
	for _, conn := range conns {
		infos = append(infos, ConnInfo{
			ID:          conn.ID.String(),
			Remote:      conn.RemoteAddr(),
			Transport:   conn.Transport,
			State:       conn.State().String(),
			Username:    conn.Username(),
			ConnectedAt: conn.ConnectedAt,
		})
	}
	c.JSON(http.StatusOK, infos)
}

// requestLogger logs one line per admin request
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		entry := logger.Debug()
		if status >= 500 {
			entry = logger.Error()
		} else if status >= 400 {
			entry = logger.Warn()
		}

		entry.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}
