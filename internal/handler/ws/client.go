package ws

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	"lingochat-backend/pkg/constants"
	"lingochat-backend/pkg/logger"
)

// Client is one authenticated WebSocket connection
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	auth     *domain.AuthContext
	identity string

	// rooms is guarded by hub.mu
	rooms map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(hub *Hub, conn *websocket.Conn, auth *domain.AuthContext) *Client {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(logger.WithConnectionID(context.Background(), id))
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, constants.WebSocketSendBuffer),
		auth:     auth,
		identity: auth.Identity.String(),
		rooms:    make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// Auth returns the identity the connection authenticated as
func (c *Client) Auth() *domain.AuthContext {
	return c.auth
}

// Identity returns the wire form of the connection's identity
func (c *Client) Identity() string {
	return c.identity
}

// Context is cancelled when the connection closes
func (c *Client) Context() context.Context {
	return c.ctx
}

// readPump reads frames and dispatches them in order until the connection
// fails, then tears the connection down
func (c *Client) readPump(dispatcher *Dispatcher, onClose func()) {
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
		c.conn.Close()
		if onClose != nil {
			onClose()
		}
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.FromContext(c.ctx).Debug("WebSocket connection closed",
					zap.String("identity", c.identity),
					zap.Error(err))
			}
			return
		}

		dispatcher.Dispatch(c.ctx, c, message)
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
