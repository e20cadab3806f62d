package hub

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "pulsehub/internal/apidocs"
	"pulsehub/internal/conn"
	"pulsehub/internal/frame"
)

// buildRouter assembles the HTTP surface (spec.md §6), grounded on the
// teacher's internal/server/routes.go gin wiring.
func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/health", s.handleHealth)

	ops := r.Group("/")
	ops.Use(s.requireAPIKey())
	ops.GET("/stats", s.handleStats)
	ops.GET("/metrics", s.handleMetrics)

	r.GET("/app", s.handleUpgrade)
	r.GET("/ws", s.handleUpgrade)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy := gin.H{"status": "ok"}
	if s.relay != nil {
		ctx := c.Request.Context()
		healthy["redis"] = s.relay.HealthCheck(ctx) == nil
	} else {
		healthy["redis"] = nil
	}
	c.JSON(http.StatusOK, healthy)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats())
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.String(http.StatusOK, renderMetrics(s.stats()))
}

// handleUpgrade performs the WebSocket handshake (spec.md §6), assigns
// the connection its socket-id and optional user identity, and starts
// its reader/writer pair. Grounded on the teacher's
// internal/websocket/client.go ServeWS.
func (s *Server) handleUpgrade(c *gin.Context) {
	if s.isStopped() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	userID, err := s.authenticate(c.Request)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("hub: upgrade failed", "error", err)
		return
	}

	sender := newWSSender(ws)
	if s.load.AtCapacity() {
		sender.Close(1008, "server at capacity")
		return
	}

	connHandle := conn.New(userID, sender)
	s.conns.Add(connHandle)
	s.load.IncConnections()

	if s.relay != nil {
		if err := s.relay.StoreConnection(c.Request.Context(), connHandle.ID, map[string]any{
			"socketId":    connHandle.ID,
			"userId":      connHandle.UserID,
			"connectedAt": connHandle.ConnectedAt,
		}); err != nil {
			s.log.Warn("hub: relay store connection failed", "socket_id", connHandle.ID, "error", err)
		}
	}

	out := frame.Outbound{
		Event: "connection_established",
		Data: struct {
			SocketID        string `json:"socket_id"`
			ActivityTimeout int64  `json:"activity_timeout"`
		}{SocketID: connHandle.ID, ActivityTimeout: int64(s.cfg.Server.ActivityTimeout.Seconds())},
	}
	s.sendOutbound(connHandle, out)

	go s.writePump(sender, s.cfg.Server.ActivityTimeout)
	go s.readPump(connHandle, sender, s.cfg.Server.ActivityTimeout)
}
