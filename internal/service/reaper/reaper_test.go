package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
	"lingochat-backend/internal/repository/memory"
	"lingochat-backend/internal/service/call"
)

const threshold = 5 * time.Hour

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store repository.CallSessionStore, startedAt time.Time, status domain.CallStatus) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	session := &domain.CallSession{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		InitiatorID:    userID,
		Mode:           domain.CallModeP2P,
		Status:         status,
		StartedAt:      startedAt,
		Metadata:       map[string]string{domain.MetaCallType: "audio"},
	}
	require.NoError(t, store.WithTransaction(ctx, func(tx repository.CallTx) error {
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		return tx.CreateParticipant(ctx, &domain.CallParticipant{
			ID:            uuid.New(),
			CallSessionID: session.ID,
			UserID:        &userID,
			Role:          domain.RoleInitiator,
			JoinedAt:      startedAt,
		})
	}))
	return session.ID
}

func newReaper(store repository.CallSessionStore) *Reaper {
	return New(store, nil, threshold, 30*time.Minute).WithClock(func() time.Time { return now })
}

func TestRunOnce_ThresholdBoundary(t *testing.T) {
	store := memory.NewCallStore()
	stale := seed(t, store, now.Add(-threshold-time.Second), domain.CallStatusActive)
	fresh := seed(t, store, now.Add(-threshold+time.Second), domain.CallStatusActive)

	result := newReaper(store).RunOnce(context.Background())

	assert.Equal(t, Result{Cleaned: 1}, result)

	ctx := context.Background()
	closed, _ := store.GetSession(ctx, stale)
	assert.Equal(t, domain.CallStatusEnded, closed.Status)
	assert.Equal(t, domain.EndReasonZombieCleanup, closed.Metadata[domain.MetaEndReason])
	assert.Equal(t, int((threshold + time.Second).Seconds()), *closed.Duration)

	participants, _ := store.ListParticipants(ctx, stale)
	require.Len(t, participants, 1)
	assert.Equal(t, now, *participants[0].LeftAt)

	untouched, _ := store.GetSession(ctx, fresh)
	assert.Equal(t, domain.CallStatusActive, untouched.Status)
}

func TestRunOnce_Idempotent(t *testing.T) {
	store := memory.NewCallStore()
	seed(t, store, now.Add(-6*time.Hour), domain.CallStatusInitiated)
	seed(t, store, now.Add(-7*time.Hour), domain.CallStatusRinging)
	r := newReaper(store)

	assert.Equal(t, Result{Cleaned: 2}, r.RunOnce(context.Background()))
	assert.Equal(t, Result{}, r.RunOnce(context.Background()))
}

// recordingNotifier remembers every terminated session
type recordingNotifier struct {
	ended []*domain.CallSession
}

func (n *recordingNotifier) CallTerminated(state *call.CallState) {
	n.ended = append(n.ended, state.Session)
}

func TestRunOnce_NotifiesClosedSessionsOnly(t *testing.T) {
	store := memory.NewCallStore()
	stale := seed(t, store, now.Add(-threshold-time.Minute), domain.CallStatusActive)
	seed(t, store, now.Add(-time.Minute), domain.CallStatusActive)
	notifier := &recordingNotifier{}
	r := newReaper(store).WithNotifier(notifier)

	r.RunOnce(context.Background())
	r.RunOnce(context.Background())

	require.Len(t, notifier.ended, 1)
	assert.Equal(t, stale, notifier.ended[0].ID)
	assert.Equal(t, domain.CallStatusEnded, notifier.ended[0].Status)
	assert.Equal(t, domain.EndReasonZombieCleanup, notifier.ended[0].Metadata[domain.MetaEndReason])
}

// flakyStore fails the transaction of one chosen session
type flakyStore struct {
	*memory.CallStore
	failFor uuid.UUID
}

func (s *flakyStore) WithTransaction(ctx context.Context, fn func(tx repository.CallTx) error) error {
	return s.CallStore.WithTransaction(ctx, func(tx repository.CallTx) error {
		return fn(&flakyTx{CallTx: tx, failFor: s.failFor})
	})
}

type flakyTx struct {
	repository.CallTx
	failFor uuid.UUID
}

func (t *flakyTx) LockSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	if callID == t.failFor {
		return nil, errors.New("deadline exceeded")
	}
	return t.CallTx.LockSession(ctx, callID)
}

func TestRunOnce_FailuresAreIsolated(t *testing.T) {
	store := &flakyStore{CallStore: memory.NewCallStore()}
	first := seed(t, store, now.Add(-8*time.Hour), domain.CallStatusActive)
	seed(t, store, now.Add(-7*time.Hour), domain.CallStatusActive)
	seed(t, store, now.Add(-6*time.Hour), domain.CallStatusActive)
	store.failFor = first

	result := newReaper(store).RunOnce(context.Background())

	assert.Equal(t, Result{Cleaned: 2, Errors: 1}, result)
	s, _ := store.GetSession(context.Background(), first)
	assert.Equal(t, domain.CallStatusActive, s.Status)
}

// racingStore ends a session between the candidate scan and the lock
type racingStore struct {
	*memory.CallStore
}

func (s *racingStore) FindStaleSessions(ctx context.Context, before time.Time) ([]*domain.CallSession, error) {
	candidates, err := s.CallStore.FindStaleSessions(ctx, before)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		_ = s.CallStore.WithTransaction(ctx, func(tx repository.CallTx) error {
			session, err := tx.LockSession(ctx, c.ID)
			if err != nil {
				return err
			}
			session.Terminate(domain.CallStatusEnded, domain.EndReasonLastLeft, now)
			return tx.UpdateSession(ctx, session)
		})
	}
	return candidates, nil
}

func TestRunOnce_RechecksUnderLock(t *testing.T) {
	store := &racingStore{CallStore: memory.NewCallStore()}
	id := seed(t, store, now.Add(-6*time.Hour), domain.CallStatusActive)

	result := newReaper(store).RunOnce(context.Background())

	assert.Equal(t, Result{}, result)
	s, _ := store.GetSession(context.Background(), id)
	assert.Equal(t, domain.EndReasonLastLeft, s.Metadata[domain.MetaEndReason])
}

func TestStart_SweepsImmediatelyAndStops(t *testing.T) {
	store := memory.NewCallStore()
	id := seed(t, store, now.Add(-6*time.Hour), domain.CallStatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newReaper(store).Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		s, _ := store.GetSession(context.Background(), id)
		return s.Status == domain.CallStatusEnded
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
