package ws

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
)

// HandlerFunc handles one inbound event. A returned error is reported to
// the originating connection as call:error.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// ErrorPayload is the body of call:error
type ErrorPayload struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details any                 `json:"details,omitempty"`
}

// Dispatcher routes inbound events by name
type Dispatcher struct {
	handlers map[string]HandlerFunc
	metrics  *metrics.Metrics
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.NewMetrics("ws")
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		metrics:  m,
	}
}

// Handle registers the handler for an event
func (d *Dispatcher) Handle(event string, fn HandlerFunc) {
	d.handlers[event] = fn
}

// Dispatch decodes one frame and runs its handler
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		d.reply(c, apperrors.ValidationError("Malformed message"))
		return
	}

	handler, ok := d.handlers[msg.Event]
	if !ok {
		d.reply(c, apperrors.ValidationError("Unknown event "+msg.Event))
		return
	}
	d.metrics.RecordWebSocketMessage(msg.Event, "in")

	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("Panic in event handler",
				zap.String("event", msg.Event),
				zap.String("identity", c.Identity()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			d.reply(c, apperrors.InternalError("Internal error"))
		}
	}()

	if err := handler(ctx, c, msg.Data); err != nil {
		d.reply(c, err)
	}
}

func (d *Dispatcher) reply(c *Client, err error) {
	appErr := apperrors.GetAppError(err)
	c.hub.Send(c, domain.EventCallError, ErrorPayload{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// decode unmarshals an event body, reporting malformed input as VALIDATION_ERROR
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperrors.ValidationError("Event data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.ValidationError("Malformed event data")
	}
	return nil
}
