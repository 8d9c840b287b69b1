// Package memory holds process-local implementations of the repository
// contracts. Transactions are serialized behind one mutex, which is enough
// for a single instance in development and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
)

// CallStore is an in-memory repository.CallSessionStore
type CallStore struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*domain.CallSession
	participants map[uuid.UUID]*domain.CallParticipant
	byCall       map[uuid.UUID][]uuid.UUID // call id -> participant ids in join order
}

// NewCallStore creates an empty store
func NewCallStore() *CallStore {
	return &CallStore{
		sessions:     make(map[uuid.UUID]*domain.CallSession),
		participants: make(map[uuid.UUID]*domain.CallParticipant),
		byCall:       make(map[uuid.UUID][]uuid.UUID),
	}
}

var _ repository.CallSessionStore = (*CallStore)(nil)

// WithTransaction runs fn while holding the store lock. Changes made
// through tx are undone in reverse order if fn returns an error.
func (s *CallStore) WithTransaction(ctx context.Context, fn func(tx repository.CallTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// GetSession returns a copy of the session
func (s *CallStore) GetSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[callID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return session.Clone(), nil
}

// ListParticipants returns copies of every participant row of the call
func (s *CallStore) ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.participantsOf(callID, false), nil
}

// FindStaleSessions returns live sessions started before the cutoff, oldest first
func (s *CallStore) FindStaleSessions(ctx context.Context, startedBefore time.Time) ([]*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*domain.CallSession
	for _, session := range s.sessions {
		if session.Status.IsLive() && session.StartedAt.Before(startedBefore) {
			stale = append(stale, session.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].StartedAt.Before(stale[j].StartedAt)
	})
	return stale, nil
}

// ListUserCalls returns the calls a user took part in, newest first
func (s *CallStore) ListUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var calls []*domain.CallSession
	for callID, ids := range s.byCall {
		for _, id := range ids {
			p := s.participants[id]
			if p.UserID != nil && *p.UserID == userID {
				calls = append(calls, s.sessions[callID].Clone())
				break
			}
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].StartedAt.After(calls[j].StartedAt)
	})

	if offset >= len(calls) {
		return []*domain.CallSession{}, nil
	}
	calls = calls[offset:]
	if limit > 0 && limit < len(calls) {
		calls = calls[:limit]
	}
	return calls, nil
}

func (s *CallStore) participantsOf(callID uuid.UUID, activeOnly bool) []*domain.CallParticipant {
	var out []*domain.CallParticipant
	for _, id := range s.byCall[callID] {
		p := s.participants[id]
		if activeOnly && !p.IsActive() {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

func (s *CallStore) liveSessionFor(conversationID uuid.UUID) *domain.CallSession {
	for _, session := range s.sessions {
		if session.ConversationID == conversationID && session.Status.IsLive() {
			return session
		}
	}
	return nil
}

// memTx implements repository.CallTx. The store lock is held for its
// whole lifetime.
type memTx struct {
	store *CallStore
	undo  []func()
}

func (t *memTx) LockSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	session, ok := t.store.sessions[callID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return session.Clone(), nil
}

func (t *memTx) FindLiveSessionByConversation(ctx context.Context, conversationID uuid.UUID) (*domain.CallSession, error) {
	session := t.store.liveSessionFor(conversationID)
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return session.Clone(), nil
}

func (t *memTx) ActiveParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	return t.store.participantsOf(callID, true), nil
}

func (t *memTx) CreateSession(ctx context.Context, session *domain.CallSession) error {
	if session.Status.IsLive() && t.store.liveSessionFor(session.ConversationID) != nil {
		return repository.ErrLiveSessionExists
	}

	id := session.ID
	t.store.sessions[id] = session.Clone()
	t.undo = append(t.undo, func() { delete(t.store.sessions, id) })
	return nil
}

func (t *memTx) CreateParticipant(ctx context.Context, participant *domain.CallParticipant) error {
	id := participant.ID
	callID := participant.CallSessionID
	prevOrder := t.store.byCall[callID]

	t.store.participants[id] = participant.Clone()
	t.store.byCall[callID] = append(append([]uuid.UUID(nil), prevOrder...), id)
	t.undo = append(t.undo, func() {
		delete(t.store.participants, id)
		if prevOrder == nil {
			delete(t.store.byCall, callID)
		} else {
			t.store.byCall[callID] = prevOrder
		}
	})
	return nil
}

func (t *memTx) UpdateSession(ctx context.Context, session *domain.CallSession) error {
	prev, ok := t.store.sessions[session.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if session.Status.IsLive() {
		if live := t.store.liveSessionFor(session.ConversationID); live != nil && live.ID != session.ID {
			return repository.ErrLiveSessionExists
		}
	}

	t.store.sessions[session.ID] = session.Clone()
	t.undo = append(t.undo, func() { t.store.sessions[prev.ID] = prev })
	return nil
}

func (t *memTx) MarkParticipantLeft(ctx context.Context, participantID uuid.UUID, at time.Time) error {
	p, ok := t.store.participants[participantID]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.IsActive() {
		return nil
	}
	t.replaceParticipant(p, func(cp *domain.CallParticipant) {
		left := at
		cp.LeftAt = &left
	})
	return nil
}

func (t *memTx) MarkAllParticipantsLeft(ctx context.Context, callID uuid.UUID, at time.Time) (int, error) {
	count := 0
	for _, id := range t.store.byCall[callID] {
		p := t.store.participants[id]
		if !p.IsActive() {
			continue
		}
		t.replaceParticipant(p, func(cp *domain.CallParticipant) {
			left := at
			cp.LeftAt = &left
		})
		count++
	}
	return count, nil
}

func (t *memTx) UpdateParticipantMedia(ctx context.Context, participantID uuid.UUID, audio, video bool) error {
	p, ok := t.store.participants[participantID]
	if !ok {
		return domain.ErrNotFound
	}
	t.replaceParticipant(p, func(cp *domain.CallParticipant) {
		cp.IsAudioEnabled = audio
		cp.IsVideoEnabled = video
	})
	return nil
}

// replaceParticipant swaps in a modified copy so the undo closure can
// restore the untouched original
func (t *memTx) replaceParticipant(prev *domain.CallParticipant, mutate func(*domain.CallParticipant)) {
	next := prev.Clone()
	mutate(next)
	t.store.participants[prev.ID] = next
	t.undo = append(t.undo, func() { t.store.participants[prev.ID] = prev })
}
