package call

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/ratelimit"
)

// ToggleMedia switches the caller's audio or video track on or off
func (s *Service) ToggleMedia(ctx context.Context, auth *domain.AuthContext, callID uuid.UUID, media domain.MediaType, enabled bool) (*domain.CallParticipant, error) {
	const op = "toggle_media"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if media != domain.MediaAudio && media != domain.MediaVideo {
		return nil, s.fail(ctx, op, callID, auth, apperrors.ValidationError("mediaType must be audio or video"))
	}
	if err := s.checkRate(ratelimit.OpMediaToggle, auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	var participant *domain.CallParticipant
	err := s.store.WithTransaction(ctx, func(tx repository.CallTx) error {
		participant = nil

		session, err := lockSession(ctx, tx, callID)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			return apperrors.CallEndedError()
		}
		if media == domain.MediaVideo && enabled && session.CallType() != domain.CallTypeVideo {
			return apperrors.ValidationError("Video cannot be enabled on an audio call")
		}

		active, err := tx.ActiveParticipants(ctx, callID)
		if err != nil {
			return err
		}
		me := repository.FindActive(active, auth.Identity)
		if me == nil {
			return apperrors.NotAParticipantError("You are not in this call")
		}

		if media == domain.MediaAudio {
			me.IsAudioEnabled = enabled
		} else {
			me.IsVideoEnabled = enabled
		}
		if err := tx.UpdateParticipantMedia(ctx, me.ID, me.IsAudioEnabled, me.IsVideoEnabled); err != nil {
			return err
		}
		participant = me
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	logger.FromContext(ctx).Debug("Media toggled",
		append(logger.CallFields(op, callID.String(), auth.Identity.String()),
			zap.String("media", string(media)),
			zap.Bool("enabled", enabled))...)

	return participant, nil
}

// GetCallState returns a call and its active participants to a member of
// its conversation
func (s *Service) GetCallState(ctx context.Context, auth *domain.AuthContext, callID uuid.UUID) (*CallState, error) {
	const op = "get_state"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	session, err := s.loadSession(ctx, callID)
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if err := s.checkMembership(ctx, auth, session.ConversationID); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	all, err := s.store.ListParticipants(ctx, callID)
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	active := make([]*domain.CallParticipant, 0, len(all))
	for _, p := range all {
		if p.IsActive() {
			active = append(active, p)
		}
	}

	return &CallState{Session: session, Participants: active}, nil
}

// ListCallHistory returns the calls the caller took part in, newest first
func (s *Service) ListCallHistory(ctx context.Context, auth *domain.AuthContext, limit, offset int) ([]*domain.CallSession, error) {
	const op = "history"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, uuid.Nil, auth, err)
	}
	if auth.Identity.IsAnonymous() {
		return nil, s.fail(ctx, op, uuid.Nil, auth, apperrors.PermissionDeniedError("Guests have no call history"))
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	calls, err := s.store.ListUserCalls(ctx, auth.Identity.UserID, limit, offset)
	if err != nil {
		return nil, s.fail(ctx, op, uuid.Nil, auth, err)
	}
	if calls == nil {
		calls = []*domain.CallSession{}
	}
	return calls, nil
}

// IceServers mints relay credentials outside of a join, for clients that
// need to restart ICE mid-call
func (s *Service) IceServers(auth *domain.AuthContext) ([]domain.IceServer, error) {
	if err := s.authenticate(auth); err != nil {
		return nil, err
	}
	servers := s.issuer.GenerateCredentials(auth.Identity.String())
	s.metrics.RecordCredentialsIssued()
	return servers, nil
}

// AuthorizeConversation checks that the caller may receive the call
// broadcasts of a conversation
func (s *Service) AuthorizeConversation(ctx context.Context, auth *domain.AuthContext, conversationID uuid.UUID) error {
	const op = "subscribe"

	if err := s.authenticate(auth); err != nil {
		return s.fail(ctx, op, uuid.Nil, auth, err)
	}
	if conversationID == uuid.Nil {
		return s.fail(ctx, op, uuid.Nil, auth, apperrors.ValidationError("conversationId is required"))
	}
	if err := s.checkMembership(ctx, auth, conversationID); err != nil {
		return s.fail(ctx, op, uuid.Nil, auth, err)
	}
	return nil
}
