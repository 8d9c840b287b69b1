package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
)

func newSession(conversationID uuid.UUID, startedAt time.Time) *domain.CallSession {
	return &domain.CallSession{
		ID:             uuid.New(),
		ConversationID: conversationID,
		InitiatorID:    uuid.New(),
		Mode:           domain.CallModeP2P,
		Status:         domain.CallStatusInitiated,
		StartedAt:      startedAt,
		Metadata:       map[string]string{domain.MetaCallType: "audio"},
	}
}

func newParticipant(callID uuid.UUID, userID uuid.UUID) *domain.CallParticipant {
	return &domain.CallParticipant{
		ID:             uuid.New(),
		CallSessionID:  callID,
		UserID:         &userID,
		Role:           domain.RoleParticipant,
		JoinedAt:       time.Now(),
		IsAudioEnabled: true,
	}
}

func TestCallStore_CreateAndRead(t *testing.T) {
	ctx := context.Background()
	store := NewCallStore()
	session := newSession(uuid.New(), time.Now())
	userID := uuid.New()
	participant := newParticipant(session.ID, userID)

	err := store.WithTransaction(ctx, func(tx repository.CallTx) error {
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		return tx.CreateParticipant(ctx, participant)
	})
	require.NoError(t, err)

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ConversationID, got.ConversationID)

	// returned values are copies
	got.Metadata[domain.MetaCallType] = "video"
	again, _ := store.GetSession(ctx, session.ID)
	assert.Equal(t, domain.CallTypeAudio, again.CallType())

	participants, err := store.ListParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, userID, *participants[0].UserID)
}

func TestCallStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewCallStore()
	session := newSession(uuid.New(), time.Now())
	boom := errors.New("boom")

	err := store.WithTransaction(ctx, func(tx repository.CallTx) error {
		require.NoError(t, tx.CreateSession(ctx, session))
		require.NoError(t, tx.CreateParticipant(ctx, newParticipant(session.ID, uuid.New())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	participants, _ := store.ListParticipants(ctx, session.ID)
	assert.Empty(t, participants)
}

func TestCallStore_RollbackRestoresUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewCallStore()
	session := newSession(uuid.New(), time.Now())
	participant := newParticipant(session.ID, uuid.New())

	require.NoError(t, store.WithTransaction(ctx, func(tx repository.CallTx) error {
		require.NoError(t, tx.CreateSession(ctx, session))
		return tx.CreateParticipant(ctx, participant)
	}))

	_ = store.WithTransaction(ctx, func(tx repository.CallTx) error {
		s, err := tx.LockSession(ctx, session.ID)
		require.NoError(t, err)
		s.Terminate(domain.CallStatusEnded, domain.EndReasonEnded, time.Now())
		require.NoError(t, tx.UpdateSession(ctx, s))
		n, err := tx.MarkAllParticipantsLeft(ctx, session.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return errors.New("abort")
	})

	got, _ := store.GetSession(ctx, session.ID)
	assert.Equal(t, domain.CallStatusInitiated, got.Status)
	participants, _ := store.ListParticipants(ctx, session.ID)
	require.Len(t, participants, 1)
	assert.True(t, participants[0].IsActive())
}

func TestCallStore_OneLiveSessionPerConversation(t *testing.T) {
	ctx := context.Background()
	store := NewCallStore()
	conversationID := uuid.New()
	first := newSession(conversationID, time.Now())

	require.NoError(t, store.WithTransaction(ctx, func(tx repository.CallTx) error {
		return tx.CreateSession(ctx, first)
	}))

	err := store.WithTransaction(ctx, func(tx repository.CallTx) error {
		return tx.CreateSession(ctx, newSession(conversationID, time.Now()))
	})
	assert.ErrorIs(t, err, repository.ErrLiveSessionExists)

	// once the first call ends a new one may start
	require.NoError(t, store.WithTransaction(ctx, func(tx repository.CallTx) error {
		s, err := tx.FindLiveSessionByConversation(ctx, conversationID)
		require.NoError(t, err)
		s.Terminate(domain.CallStatusMissed, domain.EndReasonMissed, time.Now())
		if err := tx.UpdateSession(ctx, s); err != nil {
			return err
		}
		return tx.CreateSession(ctx, newSession(conversationID, time.Now()))
	}))
}

func TestCallStore_FindStaleSessions(t *testing.T) {
	ctx := context.Background()
	store := NewCallStore()
	now := time.Now()

	old := newSession(uuid.New(), now.Add(-6*time.Hour))
	fresh := newSession(uuid.New(), now.Add(-time.Hour))
	ended := newSession(uuid.New(), now.Add(-7*time.Hour))
	ended.Terminate(domain.CallStatusEnded, domain.EndReasonEnded, now.Add(-7*time.Hour))

	require.NoError(t, store.WithTransaction(ctx, func(tx repository.CallTx) error {
		for _, s := range []*domain.CallSession{old, fresh, ended} {
			if err := tx.CreateSession(ctx, s); err != nil {
				return err
			}
		}
		return nil
	}))

	stale, err := store.FindStaleSessions(ctx, now.Add(-5*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestCallStore_ListUserCalls(t *testing.T) {
	ctx := context.Background()
	store := NewCallStore()
	userID := uuid.New()
	now := time.Now()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		s := newSession(uuid.New(), now.Add(time.Duration(i)*time.Minute))
		ids = append(ids, s.ID)
		require.NoError(t, store.WithTransaction(ctx, func(tx repository.CallTx) error {
			if err := tx.CreateSession(ctx, s); err != nil {
				return err
			}
			return tx.CreateParticipant(ctx, newParticipant(s.ID, userID))
		}))
	}

	calls, err := store.ListUserCalls(ctx, userID, 2, 0)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, ids[2], calls[0].ID)
	assert.Equal(t, ids[1], calls[1].ID)

	calls, err = store.ListUserCalls(ctx, userID, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestCallStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewCallStore().WithTransaction(ctx, func(tx repository.CallTx) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirectory_LoadSeedFile(t *testing.T) {
	conversationID := uuid.New()
	member := uuid.New()
	path := filepath.Join(t.TempDir(), "seed.json")
	seed := `[{"id":"` + conversationID.String() + `","type":"direct","videoCallsEnabled":false,"members":["` + member.String() + `"]}]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	dir := NewDirectory()
	require.NoError(t, dir.LoadSeedFile(path))

	c, err := dir.GetConversation(context.Background(), conversationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationDirect, c.Type)
	assert.False(t, c.VideoCallsEnabled)

	ok, _ := dir.IsActiveMember(context.Background(), conversationID, member)
	assert.True(t, ok)

	dir.RemoveMember(conversationID, member)
	ok, _ = dir.IsActiveMember(context.Background(), conversationID, member)
	assert.False(t, ok)
}
