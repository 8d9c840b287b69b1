package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
	apperrors "lingochat-backend/pkg/errors"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
	"lingochat-backend/pkg/ratelimit"
)

// CredentialIssuer mints relay credentials for a joining identity
type CredentialIssuer interface {
	GenerateCredentials(identity string) []domain.IceServer
}

// Notifier is told about terminal transitions the service performs on its
// own, such as an unanswered call timing out
type Notifier interface {
	CallTerminated(state *CallState)
}

// CallState is a session together with its active participants
type CallState struct {
	Session      *domain.CallSession       `json:"callSession"`
	Participants []*domain.CallParticipant `json:"participants"`
}

// InitiateCallInput contains call initiation data
type InitiateCallInput struct {
	ConversationID uuid.UUID            `json:"conversationId"`
	CallType       domain.CallType      `json:"type"`
	Settings       domain.MediaSettings `json:"settings"`
}

// InitiateResult is returned by InitiateCall
type InitiateResult struct {
	State *CallState
	// ClosedZombie is the abandoned session force-ended to make room, if any
	ClosedZombie *domain.CallSession
}

// JoinResult is returned by JoinCall
type JoinResult struct {
	State         *CallState
	Participant   *domain.CallParticipant
	IceServers    []domain.IceServer
	AlreadyJoined bool
}

// LeaveResult is returned by LeaveCall
type LeaveResult struct {
	State       *CallState
	Participant *domain.CallParticipant
	Ended       bool
}

// TransitionResult is returned by operations that may end a call. Changed
// is false when the call was already terminal.
type TransitionResult struct {
	State   *CallState
	Changed bool
}

// Service drives call sessions through their lifecycle
type Service struct {
	store     repository.CallSessionStore
	directory repository.ConversationDirectory
	issuer    CredentialIssuer
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	notifier  Notifier
	ring      *RingScheduler
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLimiter enables per-identity rate limiting of call operations
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets who hears about ring timeouts
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRingTimeout sets how long a call may ring before it is marked missed.
// Zero disables the timer.
func WithRingTimeout(d time.Duration) Option {
	return func(s *Service) { s.ring = NewRingScheduler(d) }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new call service
func NewService(
	store repository.CallSessionStore,
	directory repository.ConversationDirectory,
	issuer CredentialIssuer,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		issuer:    issuer,
		ring:      NewRingScheduler(0),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics("call")
	}
	return s
}

// Shutdown cancels pending ring timers
func (s *Service) Shutdown() {
	s.ring.Stop()
}

// PendingRings returns the number of calls waiting on a ring timeout
func (s *Service) PendingRings() int {
	return s.ring.Pending()
}

func (s *Service) authenticate(auth *domain.AuthContext) error {
	if auth == nil || auth.Identity.IsZero() {
		return apperrors.NotAuthenticatedError()
	}
	return nil
}

func (s *Service) checkRate(op ratelimit.Operation, auth *domain.AuthContext) error {
	if s.limiter == nil {
		return nil
	}
	d := s.limiter.Check(op, auth.Identity.String())
	if d.Allowed {
		return nil
	}
	s.metrics.RecordRateLimitBlocked(string(op))
	return apperrors.RateLimitExceededError(d.RetryAfterSeconds())
}

// checkMembership verifies the caller belongs to the conversation. Guests
// belong only to the conversation their invite names.
func (s *Service) checkMembership(ctx context.Context, auth *domain.AuthContext, conversationID uuid.UUID) error {
	if auth.Identity.IsAnonymous() {
		if auth.GuestConversationID == conversationID {
			return nil
		}
		return apperrors.NotAParticipantError("Not a member of this conversation")
	}

	ok, err := s.directory.IsActiveMember(ctx, conversationID, auth.Identity.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotAParticipantError("Not a member of this conversation")
	}
	return nil
}

// loadSession reads a session outside any transaction
func (s *Service) loadSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	session, err := s.store.GetSession(ctx, callID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.CallNotFoundError()
	}
	return session, err
}

// lockSession reads and locks a session inside a transaction
func lockSession(ctx context.Context, tx repository.CallTx, callID uuid.UUID) (*domain.CallSession, error) {
	session, err := tx.LockSession(ctx, callID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, apperrors.CallNotFoundError()
	}
	return session, err
}

// terminate moves a session into a terminal status and releases every
// participant still in it
func (s *Service) terminate(ctx context.Context, tx repository.CallTx, session *domain.CallSession, status domain.CallStatus, reason string, at time.Time) (bool, error) {
	if !session.Terminate(status, reason, at) {
		return false, nil
	}
	if _, err := tx.MarkAllParticipantsLeft(ctx, session.ID, at); err != nil {
		return false, err
	}
	if err := tx.UpdateSession(ctx, session); err != nil {
		return false, err
	}
	return true, nil
}

// fail converts an operation error into the AppError reported to the
// caller. Anything that is not already an AppError is a storage failure:
// it is logged with the call context and hidden behind INTERNAL_ERROR.
func (s *Service) fail(ctx context.Context, op string, callID uuid.UUID, auth *domain.AuthContext, err error) error {
	identity := ""
	if auth != nil {
		identity = auth.Identity.String()
	}
	callRef := ""
	if callID != uuid.Nil {
		callRef = callID.String()
	}

	appErr := apperrors.GetAppError(err)
	if !apperrors.IsAppError(err) {
		fields := append(logger.CallFields(op, callRef, identity), zap.Error(err))
		logger.FromContext(ctx).Error("Call operation failed", fields...)
	}
	s.metrics.RecordCallError(op, string(appErr.Code))
	return appErr
}

func (s *Service) recordEnded(session *domain.CallSession) {
	duration := time.Duration(0)
	if session.Duration != nil {
		duration = time.Duration(*session.Duration) * time.Second
	}
	s.metrics.RecordCallEnded(string(session.Status), session.Metadata[domain.MetaEndReason], duration)
}
