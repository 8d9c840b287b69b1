package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/service/call"
	"lingochat-backend/internal/service/signaling"
	apperrors "lingochat-backend/pkg/errors"
)

// Event bodies
type (
	callRef struct {
		CallID uuid.UUID `json:"callId"`
	}

	joinRequest struct {
		CallID   uuid.UUID            `json:"callId"`
		Settings domain.MediaSettings `json:"settings"`
	}

	toggleRequest struct {
		CallID  uuid.UUID `json:"callId"`
		Enabled *bool     `json:"enabled"`
	}

	conversationRef struct {
		ConversationID uuid.UUID `json:"conversationId"`
	}

	// CallInitiatedPayload is the body of call:initiated
	CallInitiatedPayload struct {
		CallID         uuid.UUID                 `json:"callId"`
		ConversationID uuid.UUID                 `json:"conversationId"`
		Type           domain.CallType           `json:"type"`
		Mode           domain.CallMode           `json:"mode"`
		Initiator      string                    `json:"initiator"`
		Participants   []*domain.CallParticipant `json:"participants"`
	}

	// CallJoinedPayload is the body of call:joined, sent to the joiner only
	CallJoinedPayload struct {
		CallSession  *domain.CallSession       `json:"callSession"`
		Participants []*domain.CallParticipant `json:"participants"`
		IceServers   []domain.IceServer        `json:"iceServers"`
	}

	// ParticipantJoinedPayload is the body of call:participant-joined
	ParticipantJoinedPayload struct {
		CallID        uuid.UUID               `json:"callId"`
		ParticipantID string                  `json:"participantId"`
		Participant   *domain.CallParticipant `json:"participant"`
	}

	// ParticipantLeftPayload is the body of call:participant-left
	ParticipantLeftPayload struct {
		CallID        uuid.UUID `json:"callId"`
		ParticipantID string    `json:"participantId"`
	}

	// CallEndedPayload is the body of call:ended and call:rejected
	CallEndedPayload struct {
		CallID   uuid.UUID         `json:"callId"`
		Status   domain.CallStatus `json:"status"`
		Reason   string            `json:"reason"`
		Duration int               `json:"duration"`
		EndedBy  string            `json:"endedBy,omitempty"`
	}

	// MediaToggledPayload is the body of call:media-toggled
	MediaToggledPayload struct {
		CallID        uuid.UUID        `json:"callId"`
		ParticipantID string           `json:"participantId"`
		MediaType     domain.MediaType `json:"mediaType"`
		Enabled       bool             `json:"enabled"`
	}
)

// CallHandler maps call events onto the call service and the signal relay.
// Participant ids on the wire are identity wire forms, the same value
// signals are addressed to.
type CallHandler struct {
	calls *call.Service
	relay *signaling.Relay
	hub   *Hub
}

// NewCallHandler creates the call event handlers. The handler is also the
// service's Notifier, so it exists before the service does; Bind completes it.
func NewCallHandler(hub *Hub) *CallHandler {
	return &CallHandler{hub: hub}
}

// Bind attaches the call service and relay
func (h *CallHandler) Bind(calls *call.Service, relay *signaling.Relay) {
	h.calls = calls
	h.relay = relay
}

// Register binds the handlers to their events
func (h *CallHandler) Register(d *Dispatcher) {
	d.Handle(domain.EventCallInitiate, h.initiate)
	d.Handle(domain.EventCallJoin, h.join)
	d.Handle(domain.EventCallLeave, h.leave)
	d.Handle(domain.EventCallEnd, h.end)
	d.Handle(domain.EventCallDecline, h.decline)
	d.Handle(domain.EventCallSignal, h.signal)
	d.Handle(domain.EventCallToggleAudio, h.toggle(domain.MediaAudio))
	d.Handle(domain.EventCallToggleVideo, h.toggle(domain.MediaVideo))
	d.Handle(domain.EventConversationSubscribe, h.subscribe)
	d.Handle(domain.EventConversationUnsubscribe, h.unsubscribe)
}

func (h *CallHandler) initiate(ctx context.Context, c *Client, data json.RawMessage) error {
	var req call.InitiateCallInput
	if err := decode(data, &req); err != nil {
		return err
	}

	result, err := h.calls.InitiateCall(ctx, c.Auth(), &req)
	if err != nil {
		return err
	}

	if result.ClosedZombie != nil {
		h.broadcastEnded(result.ClosedZombie, domain.EventCallEnded, endedPayload(result.ClosedZombie), nil)
	}

	session := result.State.Session
	h.hub.Join(c, domain.CallRoom(session.ID))

	payload := CallInitiatedPayload{
		CallID:         session.ID,
		ConversationID: session.ConversationID,
		Type:           session.CallType(),
		Mode:           session.Mode,
		Initiator:      c.Identity(),
		Participants:   result.State.Participants,
	}
	h.hub.Send(c, domain.EventCallInitiated, payload)
	h.hub.EmitToRoomExcept(domain.ConversationRoom(session.ConversationID), c, domain.EventCallInitiated, payload)
	return nil
}

func (h *CallHandler) join(ctx context.Context, c *Client, data json.RawMessage) error {
	var req joinRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	result, err := h.calls.JoinCall(ctx, c.Auth(), req.CallID, req.Settings)
	if err != nil {
		return err
	}

	room := domain.CallRoom(req.CallID)
	h.hub.Join(c, room)
	h.hub.Send(c, domain.EventCallJoined, CallJoinedPayload{
		CallSession:  result.State.Session,
		Participants: result.State.Participants,
		IceServers:   result.IceServers,
	})

	if !result.AlreadyJoined {
		h.hub.EmitToRoomExcept(room, c, domain.EventCallParticipantJoined, ParticipantJoinedPayload{
			CallID:        req.CallID,
			ParticipantID: c.Identity(),
			Participant:   result.Participant,
		})
	}
	return nil
}

func (h *CallHandler) leave(ctx context.Context, c *Client, data json.RawMessage) error {
	var req callRef
	if err := decode(data, &req); err != nil {
		return err
	}

	result, err := h.calls.LeaveCall(ctx, c.Auth(), req.CallID)
	if err != nil {
		return err
	}

	room := domain.CallRoom(req.CallID)
	h.hub.EmitToRoom(room, domain.EventCallParticipantLeft, ParticipantLeftPayload{
		CallID:        req.CallID,
		ParticipantID: c.Identity(),
	})
	h.hub.LeaveIdentity(room, c.Identity())

	if result.Ended {
		h.broadcastEnded(result.State.Session, domain.EventCallEnded, endedPayload(result.State.Session), nil)
	}
	return nil
}

func (h *CallHandler) end(ctx context.Context, c *Client, data json.RawMessage) error {
	var req callRef
	if err := decode(data, &req); err != nil {
		return err
	}

	result, err := h.calls.EndCall(ctx, c.Auth(), req.CallID)
	if err != nil {
		return err
	}

	payload := endedPayload(result.State.Session)
	h.hub.Send(c, domain.EventCallEnded, payload)
	if result.Changed {
		h.broadcastEnded(result.State.Session, domain.EventCallEnded, payload, c)
	}
	return nil
}

func (h *CallHandler) decline(ctx context.Context, c *Client, data json.RawMessage) error {
	var req callRef
	if err := decode(data, &req); err != nil {
		return err
	}

	result, err := h.calls.DeclineCall(ctx, c.Auth(), req.CallID)
	if err != nil {
		return err
	}

	payload := endedPayload(result.State.Session)
	payload.EndedBy = c.Identity()
	h.hub.Send(c, domain.EventCallRejected, payload)
	if result.Changed {
		h.broadcastEnded(result.State.Session, domain.EventCallRejected, payload, c)
	}
	return nil
}

func (h *CallHandler) signal(ctx context.Context, c *Client, data json.RawMessage) error {
	var envelope domain.SignalEnvelope
	if err := decode(data, &envelope); err != nil {
		return err
	}
	return h.relay.Relay(ctx, c.Auth(), &envelope)
}

func (h *CallHandler) toggle(media domain.MediaType) HandlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var req toggleRequest
		if err := decode(data, &req); err != nil {
			return err
		}
		if req.Enabled == nil {
			return apperrors.ValidationError("enabled is required")
		}

		if _, err := h.calls.ToggleMedia(ctx, c.Auth(), req.CallID, media, *req.Enabled); err != nil {
			return err
		}

		h.hub.EmitToRoom(domain.CallRoom(req.CallID), domain.EventCallMediaToggled, MediaToggledPayload{
			CallID:        req.CallID,
			ParticipantID: c.Identity(),
			MediaType:     media,
			Enabled:       *req.Enabled,
		})
		return nil
	}
}

func (h *CallHandler) subscribe(ctx context.Context, c *Client, data json.RawMessage) error {
	var req conversationRef
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := h.calls.AuthorizeConversation(ctx, c.Auth(), req.ConversationID); err != nil {
		return err
	}

	h.hub.Join(c, domain.ConversationRoom(req.ConversationID))
	h.hub.Send(c, domain.EventConversationSubscribed, req)
	return nil
}

func (h *CallHandler) unsubscribe(_ context.Context, c *Client, data json.RawMessage) error {
	var req conversationRef
	if err := decode(data, &req); err != nil {
		return err
	}
	h.hub.Leave(c, domain.ConversationRoom(req.ConversationID))
	return nil
}

// CallTerminated implements call.Notifier for transitions that happen
// without a client event, such as a ring timeout
func (h *CallHandler) CallTerminated(state *call.CallState) {
	h.broadcastEnded(state.Session, domain.EventCallEnded, endedPayload(state.Session), nil)
}

// broadcastEnded tells the call and conversation rooms that a call is over
// and empties the call room. except, if set, has been answered directly.
func (h *CallHandler) broadcastEnded(session *domain.CallSession, event string, payload CallEndedPayload, except *Client) {
	room := domain.CallRoom(session.ID)
	h.hub.EmitToRoomExcept(room, except, event, payload)
	h.hub.EmitToRoomExcept(domain.ConversationRoom(session.ConversationID), except, event, payload)
	h.hub.CloseRoom(room)
}

func endedPayload(session *domain.CallSession) CallEndedPayload {
	payload := CallEndedPayload{
		CallID:  session.ID,
		Status:  session.Status,
		Reason:  session.Metadata[domain.MetaEndReason],
		EndedBy: session.Metadata[domain.MetaEndedBy],
	}
	if session.Duration != nil {
		payload.Duration = *session.Duration
	}
	return payload
}
