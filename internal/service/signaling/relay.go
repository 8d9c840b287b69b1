// Package signaling forwards WebRTC negotiation messages between the
// verified participants of a call. Signals are never stored.
package signaling

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
	"lingochat-backend/pkg/constants"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
	"lingochat-backend/pkg/ratelimit"
)

// Emitter delivers an event to the connections of one identity that are
// subscribed to a room. Delivery is best effort; it returns how many
// connections the event was queued for.
type Emitter interface {
	EmitToIdentityInRoom(room, identity, event string, payload any) int
}

// Relay validates and forwards call signals
type Relay struct {
	store   repository.CallSessionStore
	limiter *ratelimit.Limiter
	emitter Emitter
	metrics *metrics.Metrics
}

// NewRelay creates a relay. limiter may be nil.
func NewRelay(store repository.CallSessionStore, limiter *ratelimit.Limiter, emitter Emitter, m *metrics.Metrics) *Relay {
	if m == nil {
		m = metrics.NewMetrics("signaling")
	}
	return &Relay{
		store:   store,
		limiter: limiter,
		emitter: emitter,
		metrics: m,
	}
}

// Relay checks, in order, the sender's rate budget, the payload, the
// sender's participation and the target's participation, then forwards the
// signal on the call's room to the target only
func (r *Relay) Relay(ctx context.Context, auth *domain.AuthContext, envelope *domain.SignalEnvelope) error {
	err := r.relay(ctx, auth, envelope)
	if err == nil {
		r.metrics.RecordSignalRelayed(string(envelope.Signal.Type))
		return nil
	}

	appErr := apperrors.GetAppError(err)
	if !apperrors.IsAppError(err) {
		identity, callID := "", ""
		if auth != nil {
			identity = auth.Identity.String()
		}
		if envelope != nil {
			callID = envelope.CallID.String()
		}
		logger.FromContext(ctx).Error("Signal relay failed",
			append(logger.CallFields("signal", callID, identity), zap.Error(err))...)
	}
	r.metrics.RecordSignalRejected(string(appErr.Code))
	return appErr
}

func (r *Relay) relay(ctx context.Context, auth *domain.AuthContext, envelope *domain.SignalEnvelope) error {
	if auth == nil || auth.Identity.IsZero() {
		return apperrors.NotAuthenticatedError()
	}
	sender := auth.Identity.String()

	if r.limiter != nil {
		if d := r.limiter.Check(ratelimit.OpSignal, sender); !d.Allowed {
			r.metrics.RecordRateLimitBlocked(string(ratelimit.OpSignal))
			return apperrors.RateLimitExceededError(d.RetryAfterSeconds())
		}
	}

	if err := Validate(envelope); err != nil {
		return err
	}
	signal := envelope.Signal

	if signal.From != sender {
		logger.FromContext(ctx).Warn("Rejected signal with forged sender",
			zap.String("call_id", envelope.CallID.String()),
			zap.String("identity", sender),
			zap.String("claimed_from", signal.From))
		return apperrors.SignalSenderMismatchError()
	}

	active, err := r.activeParticipants(ctx, envelope.CallID)
	if err != nil {
		return err
	}
	if repository.FindActive(active, auth.Identity) == nil {
		return apperrors.NotAParticipantError("You are not in this call")
	}

	target, err := domain.ParseIdentity(signal.To)
	if err != nil || target == auth.Identity || repository.FindActive(active, target) == nil {
		return apperrors.TargetNotFoundError()
	}

	payload := domain.SignalEnvelope{CallID: envelope.CallID, Signal: signal}
	delivered := r.emitter.EmitToIdentityInRoom(domain.CallRoom(envelope.CallID), target.String(), domain.EventCallSignalReceived, payload)
	if delivered == 0 {
		logger.FromContext(ctx).Debug("Signal target has no connection in call room",
			zap.String("call_id", envelope.CallID.String()),
			zap.String("to", signal.To))
	}
	return nil
}

func (r *Relay) activeParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	session, err := r.store.GetSession(ctx, callID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.CallNotFoundError()
	}
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, apperrors.CallEndedError()
	}

	all, err := r.store.ListParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, p := range all {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	return active, nil
}

// Validate checks the shape and size of a signal envelope
func Validate(envelope *domain.SignalEnvelope) error {
	if envelope == nil || envelope.CallID == uuid.Nil {
		return apperrors.ValidationError("callId is required")
	}
	signal := envelope.Signal
	if signal.From == "" || signal.To == "" {
		return apperrors.ValidationError("signal.from and signal.to are required")
	}

	switch signal.Type {
	case domain.SignalTypeOffer, domain.SignalTypeAnswer:
		if signal.SDP == "" {
			return apperrors.InvalidSignalError("sdp is required for " + string(signal.Type))
		}
		if len(signal.SDP) > constants.MaxSDPSize {
			return apperrors.InvalidSignalError("sdp exceeds 50KB")
		}
	case domain.SignalTypeICECandidate:
		candidate := bytes.TrimSpace(signal.Candidate)
		if len(candidate) == 0 || bytes.Equal(candidate, []byte("null")) {
			return apperrors.InvalidSignalError("candidate is required for ice-candidate")
		}
		if len(signal.Candidate) > constants.MaxICECandidateSize {
			return apperrors.InvalidSignalError("candidate exceeds 1KB")
		}
	default:
		return apperrors.InvalidSignalError("unknown signal type")
	}
	return nil
}
