package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
	"lingochat-backend/pkg/resilience"
)

const brokerResubscribeDelay = 5 * time.Second

// Message is one frame on the wire in either direction
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub tracks live connections and the rooms they are subscribed to.
// Delivery is fire-and-forget: a connection whose send buffer is full
// misses the frame.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	// Cross-instance fan-out, nil for a single instance
	broker     Broker
	instanceID string
	outbox     chan *Envelope
	breaker    *resilience.CircuitBreaker

	metrics *metrics.Metrics
}

// NewHub creates a hub. broker may be nil.
func NewHub(broker Broker, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.NewMetrics("ws")
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		broker:     broker,
		instanceID: uuid.New().String(),
		outbox:     make(chan *Envelope, 1024),
		breaker:    resilience.NewCircuitBreaker("room-broker", 5, 10*time.Second, m),
		metrics:    m,
	}
}

// Run pumps room events between this hub and the broker until ctx is done.
// Without a broker it returns immediately.
func (h *Hub) Run(ctx context.Context) {
	if h.broker == nil {
		return
	}

	go h.subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.outbox:
			err := h.breaker.Execute(func() error { return h.broker.Publish(ctx, env) })
			switch {
			case errors.Is(err, resilience.ErrCircuitOpen):
				logger.Debug("Room broker unavailable, event stays local", zap.String("room", env.Room))
			case err != nil:
				logger.Warn("Failed to publish room event",
					zap.String("room", env.Room),
					zap.Error(err))
			}
		}
	}
}

// subscribe keeps a broker subscription open, resubscribing after failures
func (h *Hub) subscribe(ctx context.Context) {
	for {
		err := h.broker.Subscribe(ctx, h.deliverRemote)
		if ctx.Err() != nil {
			return
		}
		logger.Error("Room broker subscription ended, retrying",
			zap.Duration("retry_in", brokerResubscribeDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(brokerResubscribeDelay):
		}
	}
}

// Register adds a connection
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetWebSocketConnections(count)
}

// Unregister removes a connection from every room and closes its send queue
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range c.rooms {
		h.removeLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetWebSocketConnections(count)
}

// Join subscribes a connection to a room
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave unsubscribes a connection from a room
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, room)
}

// LeaveIdentity unsubscribes every connection of an identity from a room,
// on this instance and, through the broker, on the others
func (h *Hub) LeaveIdentity(room, identity string) {
	h.leaveIdentityLocal(room, identity)
	h.publish(&Envelope{Op: OpLeaveIdentity, Room: room, Identity: identity})
}

// CloseRoom unsubscribes everyone from a room on every instance
func (h *Hub) CloseRoom(room string) {
	h.closeRoomLocal(room)
	h.publish(&Envelope{Op: OpCloseRoom, Room: room})
}

func (h *Hub) leaveIdentityLocal(room, identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		if c.Identity() == identity {
			h.removeLocked(c, room)
		}
	}
}

func (h *Hub) closeRoomLocal(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[room] {
		delete(c.rooms, room)
	}
	delete(h.rooms, room)
}

func (h *Hub) removeLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Send queues an event for one connection
func (h *Hub) Send(c *Client, event string, payload any) bool {
	frame, err := encode(event, payload)
	if err != nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	return h.enqueue(c, frame, event)
}

// EmitToRoom queues an event for every connection in a room and returns the
// number of local connections reached
func (h *Hub) EmitToRoom(room, event string, payload any) int {
	return h.emit(room, "", nil, event, payload)
}

// EmitToRoomExcept is EmitToRoom skipping one local connection
func (h *Hub) EmitToRoomExcept(room string, except *Client, event string, payload any) int {
	return h.emit(room, "", except, event, payload)
}

// EmitToIdentityInRoom queues an event only for the connections of one
// identity that are subscribed to the room
func (h *Hub) EmitToIdentityInRoom(room, identity, event string, payload any) int {
	return h.emit(room, identity, nil, event, payload)
}

func (h *Hub) emit(room, identity string, except *Client, event string, payload any) int {
	frame, err := encode(event, payload)
	if err != nil {
		logger.Error("Failed to encode event",
			zap.String("event", event),
			zap.Error(err))
		return 0
	}

	delivered := h.deliverLocal(room, identity, except, frame, event)
	h.publish(&Envelope{Room: room, Identity: identity, Event: event, Frame: frame})
	return delivered
}

// publish queues an envelope for the other instances. Events and membership
// changes share the outbox so they stay in order.
func (h *Hub) publish(env *Envelope) {
	if h.broker == nil {
		return
	}
	env.Origin = h.instanceID
	select {
	case h.outbox <- env:
	default:
		logger.Warn("Room broker outbox full, dropping envelope",
			zap.String("room", env.Room),
			zap.String("op", env.Op),
			zap.String("event", env.Event))
	}
}

func (h *Hub) deliverRemote(env *Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	switch env.Op {
	case OpLeaveIdentity:
		h.leaveIdentityLocal(env.Room, env.Identity)
	case OpCloseRoom:
		h.closeRoomLocal(env.Room)
	case "":
		h.deliverLocal(env.Room, env.Identity, nil, env.Frame, env.Event)
	default:
		logger.Debug("Ignoring unknown room envelope", zap.String("op", env.Op))
	}
}

func (h *Hub) deliverLocal(room, identity string, except *Client, frame []byte, event string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[room] {
		if c == except || (identity != "" && c.Identity() != identity) {
			continue
		}
		if h.enqueue(c, frame, event) {
			delivered++
		}
	}
	return delivered
}

// enqueue must be called with h.mu held
func (h *Hub) enqueue(c *Client, frame []byte, event string) bool {
	select {
	case c.send <- frame:
		h.metrics.RecordWebSocketMessage(event, "out")
		return true
	default:
		logger.Debug("Send buffer full, dropping event",
			zap.String("connection_id", c.id),
			zap.String("event", event))
		return false
	}
}

// ConnectionCount returns the number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of local connections in a room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: data})
}
