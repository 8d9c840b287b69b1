package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lingochat-backend/internal/middleware"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/response"
)

// Server upgrades authenticated HTTP requests into hub connections
type Server struct {
	hub           *Hub
	dispatcher    *Dispatcher
	authenticator *middleware.Authenticator
	upgrader      websocket.Upgrader

	// Concurrency limit: semaphore holds one slot per open connection
	maxConnections int
	semaphore      chan struct{}
}

// NewServer creates the WebSocket entry point
func NewServer(hub *Hub, dispatcher *Dispatcher, authenticator *middleware.Authenticator, allowedOrigins []string, maxConnections int) *Server {
	if maxConnections <= 0 {
		maxConnections = 1000
	}

	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Server{
		hub:           hub,
		dispatcher:    dispatcher,
		authenticator: authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin
				return origin == "" || origins[origin]
			},
		},
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
	}
}

// ServeWS handles WebSocket requests
func (s *Server) ServeWS(c *gin.Context) {
	auth, err := s.authenticator.Authenticate(c.Request.Context(), middleware.TokenFromRequest(c.Request))
	if err != nil {
		response.FromError(c, err)
		return
	}

	select {
	case s.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", s.maxConnections))
		response.FromError(c, apperrors.ServiceUnavailableError("Server at capacity, please try again later"))
		return
	}
	release := func() { <-s.semaphore }

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("WebSocket upgrade failed",
			zap.String("identity", auth.Identity.String()),
			zap.Error(err))
		return
	}

	client := newClient(s.hub, conn, auth)
	s.hub.Register(client)

	logger.FromContext(client.ctx).Debug("WebSocket connected",
		zap.String("identity", client.identity))

	go client.writePump()
	go client.readPump(s.dispatcher, release)
}
