package call

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
	"lingochat-backend/pkg/constants"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/ratelimit"
)

// InitiateCall starts a new p2p call in a conversation with the caller as
// its initiator. A live session nobody is in any more is force-ended first.
func (s *Service) InitiateCall(ctx context.Context, auth *domain.AuthContext, input *InitiateCallInput) (*InitiateResult, error) {
	const op = "initiate"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, uuid.Nil, auth, err)
	}
	if err := s.checkRate(ratelimit.OpInitiate, auth); err != nil {
		return nil, s.fail(ctx, op, uuid.Nil, auth, err)
	}
	if auth.Identity.IsAnonymous() {
		return nil, s.fail(ctx, op, uuid.Nil, auth, apperrors.PermissionDeniedError("Guests cannot start calls"))
	}
	if input == nil || input.ConversationID == uuid.Nil {
		return nil, s.fail(ctx, op, uuid.Nil, auth, apperrors.ValidationError("conversationId is required"))
	}
	if !input.CallType.Valid() {
		return nil, s.fail(ctx, op, uuid.Nil, auth, apperrors.ValidationError("type must be audio or video"))
	}
	conversation, err := s.directory.GetConversation(ctx, input.ConversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, s.fail(ctx, op, uuid.Nil, auth, apperrors.ConversationNotFoundError())
	}
	if err != nil {
		return nil, s.fail(ctx, op, uuid.Nil, auth, err)
	}
	if !conversation.SupportsCalls() {
		return nil, s.fail(ctx, op, uuid.Nil, auth, apperrors.ValidationError("Calls are not supported in this conversation"))
	}
	if input.CallType == domain.CallTypeVideo && !conversation.VideoCallsEnabled {
		return nil, s.fail(ctx, op, uuid.Nil, auth, apperrors.VideoCallsNotSupportedError())
	}
	if err := s.checkMembership(ctx, auth, input.ConversationID); err != nil {
		return nil, s.fail(ctx, op, uuid.Nil, auth, err)
	}

	now := s.now()
	userID := auth.Identity.UserID
	audio, video := input.Settings.Resolve(input.CallType)

	session := &domain.CallSession{
		ID:             uuid.New(),
		ConversationID: input.ConversationID,
		InitiatorID:    userID,
		Mode:           domain.CallModeP2P,
		Status:         domain.CallStatusInitiated,
		StartedAt:      now,
		Metadata:       map[string]string{domain.MetaCallType: string(input.CallType)},
	}
	initiator := &domain.CallParticipant{
		ID:             uuid.New(),
		CallSessionID:  session.ID,
		UserID:         &userID,
		Role:           domain.RoleInitiator,
		JoinedAt:       now,
		IsAudioEnabled: audio,
		IsVideoEnabled: video,
	}

	var zombie *domain.CallSession
	err = s.store.WithTransaction(ctx, func(tx repository.CallTx) error {
		zombie = nil

		existing, err := tx.FindLiveSessionByConversation(ctx, input.ConversationID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil {
			active, err := tx.ActiveParticipants(ctx, existing.ID)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				return apperrors.CallAlreadyActiveError()
			}
			if _, err := s.terminate(ctx, tx, existing, domain.CallStatusEnded, domain.EndReasonZombieCleanup, now); err != nil {
				return err
			}
			zombie = existing
		}

		if err := tx.CreateSession(ctx, session); err != nil {
			if errors.Is(err, repository.ErrLiveSessionExists) {
				return apperrors.CallAlreadyActiveError()
			}
			return err
		}
		return tx.CreateParticipant(ctx, initiator)
	})
	if err != nil {
		return nil, s.fail(ctx, op, session.ID, auth, err)
	}

	if zombie != nil {
		s.recordEnded(zombie)
		logger.FromContext(ctx).Info("Closed abandoned call before initiating",
			zap.String("zombie_call_id", zombie.ID.String()),
			zap.String("conversation_id", zombie.ConversationID.String()))
	}
	s.metrics.RecordCallStarted(string(input.CallType))
	s.scheduleRingTimeout(session.ID)

	logger.FromContext(ctx).Info("Call initiated",
		append(logger.CallFields(op, session.ID.String(), auth.Identity.String()),
			zap.String("call_type", string(input.CallType)))...)

	return &InitiateResult{
		State: &CallState{
			Session:      session,
			Participants: []*domain.CallParticipant{initiator},
		},
		ClosedZombie: zombie,
	}, nil
}

// JoinCall adds the caller to a call and returns fresh relay credentials.
// Joining a call one is already in returns the current state.
func (s *Service) JoinCall(ctx context.Context, auth *domain.AuthContext, callID uuid.UUID, settings domain.MediaSettings) (*JoinResult, error) {
	const op = "join"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if err := s.checkRate(ratelimit.OpJoin, auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	current, err := s.loadSession(ctx, callID)
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if current.Status.IsTerminal() {
		return nil, s.fail(ctx, op, callID, auth, apperrors.CallEndedError())
	}
	if err := s.checkMembership(ctx, auth, current.ConversationID); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	var (
		result   *JoinResult
		answered bool
	)
	err = s.store.WithTransaction(ctx, func(tx repository.CallTx) error {
		result, answered = nil, false
		now := s.now()

		session, err := lockSession(ctx, tx, callID)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			return apperrors.CallEndedError()
		}

		active, err := tx.ActiveParticipants(ctx, callID)
		if err != nil {
			return err
		}
		if existing := repository.FindActive(active, auth.Identity); existing != nil {
			result = &JoinResult{
				State:         &CallState{Session: session, Participants: active},
				Participant:   existing,
				AlreadyJoined: true,
			}
			return nil
		}
		if len(active) >= constants.MaxP2PParticipants {
			return apperrors.MaxParticipantsError()
		}

		audio, video := settings.Resolve(session.CallType())
		participant := &domain.CallParticipant{
			ID:             uuid.New(),
			CallSessionID:  callID,
			Role:           domain.RoleParticipant,
			JoinedAt:       now,
			IsAudioEnabled: audio,
			IsVideoEnabled: video,
		}
		if auth.Identity.IsAnonymous() {
			anonID := auth.Identity.AnonymousID
			participant.AnonymousID = &anonID
		} else {
			userID := auth.Identity.UserID
			participant.UserID = &userID
		}
		if err := tx.CreateParticipant(ctx, participant); err != nil {
			return err
		}

		if session.Status == domain.CallStatusInitiated || session.Status == domain.CallStatusRinging {
			session.Status = domain.CallStatusActive
			session.AnsweredAt = &now
			if err := tx.UpdateSession(ctx, session); err != nil {
				return err
			}
			answered = true
		}

		result = &JoinResult{
			State:       &CallState{Session: session, Participants: append(active, participant)},
			Participant: participant,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	if answered {
		s.ring.Cancel(callID)
	}

	// credentials are minted per join and never reused
	result.IceServers = s.issuer.GenerateCredentials(auth.Identity.String())
	s.metrics.RecordCredentialsIssued()

	if !result.AlreadyJoined {
		logger.FromContext(ctx).Info("Participant joined call",
			logger.CallFields(op, callID.String(), auth.Identity.String())...)
	}
	return result, nil
}

// LeaveCall removes the caller from a call. The last one out ends it.
func (s *Service) LeaveCall(ctx context.Context, auth *domain.AuthContext, callID uuid.UUID) (*LeaveResult, error) {
	const op = "leave"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if err := s.checkRate(ratelimit.OpLeave, auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	var result *LeaveResult
	err := s.store.WithTransaction(ctx, func(tx repository.CallTx) error {
		result = nil
		now := s.now()

		session, err := lockSession(ctx, tx, callID)
		if err != nil {
			return err
		}
		active, err := tx.ActiveParticipants(ctx, callID)
		if err != nil {
			return err
		}
		me := repository.FindActive(active, auth.Identity)
		if me == nil {
			return apperrors.NotAParticipantError("You are not in this call")
		}

		if err := tx.MarkParticipantLeft(ctx, me.ID, now); err != nil {
			return err
		}
		me.LeftAt = &now

		remaining := make([]*domain.CallParticipant, 0, len(active))
		for _, p := range active {
			if p.ID != me.ID {
				remaining = append(remaining, p)
			}
		}

		ended := false
		if len(remaining) == 0 && session.Terminate(domain.CallStatusEnded, domain.EndReasonLastLeft, now) {
			if err := tx.UpdateSession(ctx, session); err != nil {
				return err
			}
			ended = true
		}

		result = &LeaveResult{
			State:       &CallState{Session: session, Participants: remaining},
			Participant: me,
			Ended:       ended,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	if result.Ended {
		s.ring.Cancel(callID)
		s.recordEnded(result.State.Session)
	}
	logger.FromContext(ctx).Info("Participant left call",
		append(logger.CallFields(op, callID.String(), auth.Identity.String()),
			zap.Bool("call_ended", result.Ended))...)

	return result, nil
}

// EndCall lets the initiator end the call for everyone. Ending a call that
// is already over returns its state unchanged.
func (s *Service) EndCall(ctx context.Context, auth *domain.AuthContext, callID uuid.UUID) (*TransitionResult, error) {
	const op = "end"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if auth.Identity.IsAnonymous() {
		return nil, s.fail(ctx, op, callID, auth, apperrors.PermissionDeniedError("Guests cannot end calls, leave instead"))
	}
	if err := s.checkRate(ratelimit.OpLeave, auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	var result *TransitionResult
	err := s.store.WithTransaction(ctx, func(tx repository.CallTx) error {
		result = nil

		session, err := lockSession(ctx, tx, callID)
		if err != nil {
			return err
		}
		active, err := tx.ActiveParticipants(ctx, callID)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			result = &TransitionResult{State: &CallState{Session: session, Participants: active}}
			return nil
		}

		// multi-party sessions follow the same initiator-only rule until a
		// moderator role exists
		me := repository.FindActive(active, auth.Identity)
		if me == nil {
			return apperrors.NotAParticipantError("You are not in this call")
		}
		if me.Role != domain.RoleInitiator {
			return apperrors.PermissionDeniedError("Only the call initiator can end the call")
		}

		session.Metadata[domain.MetaEndedBy] = auth.Identity.String()
		changed, err := s.terminate(ctx, tx, session, domain.CallStatusEnded, domain.EndReasonEnded, s.now())
		if err != nil {
			return err
		}
		result = &TransitionResult{State: &CallState{Session: session, Participants: []*domain.CallParticipant{}}, Changed: changed}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	if result.Changed {
		s.ring.Cancel(callID)
		s.recordEnded(result.State.Session)
		logger.FromContext(ctx).Info("Call ended",
			logger.CallFields(op, callID.String(), auth.Identity.String())...)
	}
	return result, nil
}

// DeclineCall lets a conversation member refuse a ringing call, marking
// it rejected
func (s *Service) DeclineCall(ctx context.Context, auth *domain.AuthContext, callID uuid.UUID) (*TransitionResult, error) {
	const op = "decline"

	if err := s.authenticate(auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if err := s.checkRate(ratelimit.OpLeave, auth); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}

	current, err := s.loadSession(ctx, callID)
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if err := s.checkMembership(ctx, auth, current.ConversationID); err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	if !auth.Identity.IsAnonymous() && auth.Identity.UserID == current.InitiatorID {
		return nil, s.fail(ctx, op, callID, auth, apperrors.PermissionDeniedError("The initiator cannot decline their own call"))
	}

	result, err := s.transition(ctx, callID, domain.CallStatusRejected, domain.EndReasonRejected, true)
	if err != nil {
		return nil, s.fail(ctx, op, callID, auth, err)
	}
	return result, nil
}

// MarkCallAsMissed ends an unanswered call as missed
func (s *Service) MarkCallAsMissed(ctx context.Context, callID uuid.UUID) (*TransitionResult, error) {
	result, err := s.transition(ctx, callID, domain.CallStatusMissed, domain.EndReasonMissed, false)
	if err != nil {
		return nil, s.fail(ctx, "mark_missed", callID, nil, err)
	}
	return result, nil
}

// MarkCallAsRejected ends a call as rejected
func (s *Service) MarkCallAsRejected(ctx context.Context, callID uuid.UUID) (*TransitionResult, error) {
	result, err := s.transition(ctx, callID, domain.CallStatusRejected, domain.EndReasonRejected, false)
	if err != nil {
		return nil, s.fail(ctx, "mark_rejected", callID, nil, err)
	}
	return result, nil
}

// transition performs a missed/rejected terminal transition. With
// unansweredOnly set, a call that was already answered is refused.
func (s *Service) transition(ctx context.Context, callID uuid.UUID, status domain.CallStatus, reason string, unansweredOnly bool) (*TransitionResult, error) {
	var result *TransitionResult
	err := s.store.WithTransaction(ctx, func(tx repository.CallTx) error {
		result = nil

		session, err := lockSession(ctx, tx, callID)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			active, err := tx.ActiveParticipants(ctx, callID)
			if err != nil {
				return err
			}
			result = &TransitionResult{State: &CallState{Session: session, Participants: active}}
			return nil
		}
		if unansweredOnly && session.Status == domain.CallStatusActive {
			return apperrors.ValidationError("Call has already been answered")
		}

		changed, err := s.terminate(ctx, tx, session, status, reason, s.now())
		if err != nil {
			return err
		}
		result = &TransitionResult{State: &CallState{Session: session, Participants: []*domain.CallParticipant{}}, Changed: changed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.ring.Cancel(callID)
		s.recordEnded(result.State.Session)
		logger.Info("Call closed",
			zap.String("call_id", callID.String()),
			zap.String("status", string(status)))
	}
	return result, nil
}

// scheduleRingTimeout arms the missed-call timer for a new session
func (s *Service) scheduleRingTimeout(callID uuid.UUID) {
	s.ring.Schedule(callID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()

		if err := s.expireRing(ctx, callID); err != nil {
			logger.Warn("Ring timeout handling failed",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		}
	})
}

// expireRing marks the call missed if nobody answered it in time
func (s *Service) expireRing(ctx context.Context, callID uuid.UUID) error {
	current, err := s.store.GetSession(ctx, callID)
	if err != nil {
		return err
	}
	if current.Status != domain.CallStatusInitiated && current.Status != domain.CallStatusRinging {
		return nil
	}

	result, err := s.transition(ctx, callID, domain.CallStatusMissed, domain.EndReasonMissed, true)
	if apperrors.HasCode(err, apperrors.ErrCodeValidation) {
		// answered between the read and the lock
		return nil
	}
	if err != nil {
		return err
	}
	if result.Changed && s.notifier != nil {
		s.notifier.CallTerminated(result.State)
	}
	return nil
}
