// Package repository declares the persistence contracts the call service
// depends on. Implementations live in the cockroach and memory subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"lingochat-backend/internal/domain"
)

// ErrLiveSessionExists is returned by CreateSession when the conversation
// already has a session in a live status
var ErrLiveSessionExists = errors.New("conversation already has a live call session")

// CallSessionStore persists call sessions and their participants. Every
// multi-row mutation goes through WithTransaction.
type CallSessionStore interface {
	// WithTransaction runs fn as one unit of work. Returning an error rolls
	// back every change made through tx.
	WithTransaction(ctx context.Context, fn func(tx CallTx) error) error

	GetSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	// FindStaleSessions returns live sessions started before the cutoff
	FindStaleSessions(ctx context.Context, startedBefore time.Time) ([]*domain.CallSession, error)
	ListUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error)
}

// CallTx is the transactional view of the store. Reads through a CallTx
// lock what they return until the transaction finishes.
type CallTx interface {
	LockSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	FindLiveSessionByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.CallSession, error)
	ActiveParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)

	CreateSession(ctx context.Context, session *domain.CallSession) error
	CreateParticipant(ctx context.Context, participant *domain.CallParticipant) error
	UpdateSession(ctx context.Context, session *domain.CallSession) error

	MarkParticipantLeft(ctx context.Context, participantID uuid.UUID, at time.Time) error
	MarkAllParticipantsLeft(ctx context.Context, callID uuid.UUID, at time.Time) (int, error)
	UpdateParticipantMedia(ctx context.Context, participantID uuid.UUID, audio, video bool) error
}

// ConversationDirectory answers conversation membership questions
type ConversationDirectory interface {
	GetConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	IsActiveMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// FindActive returns the active participant row for identity, or nil
func FindActive(participants []*domain.CallParticipant, identity domain.Identity) *domain.CallParticipant {
	for _, p := range participants {
		if p.IsActive() && p.Identity() == identity {
			return p
		}
	}
	return nil
}
