// Package reaper force-closes call sessions that stayed live far longer
// than any real call, which happens when clients crash without leaving.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingochat-backend/internal/domain"
	"lingochat-backend/internal/repository"
	"lingochat-backend/internal/service/call"
	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
)

// Result is the outcome of one sweep
type Result struct {
	Cleaned int `json:"cleaned"`
	Errors  int `json:"errors"`
}

// Reaper periodically ends abandoned sessions
type Reaper struct {
	store       repository.CallSessionStore
	metrics     *metrics.Metrics
	maxDuration time.Duration
	interval    time.Duration
	notifier    call.Notifier
	now         func() time.Time
}

// New creates a reaper closing sessions older than maxDuration every interval
func New(store repository.CallSessionStore, m *metrics.Metrics, maxDuration, interval time.Duration) *Reaper {
	if m == nil {
		m = metrics.NewMetrics("reaper")
	}
	return &Reaper{
		store:       store,
		metrics:     m,
		maxDuration: maxDuration,
		interval:    interval,
		now:         time.Now,
	}
}

// WithClock replaces time.Now, for tests
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// WithNotifier sets who hears about sessions the reaper closed
func (r *Reaper) WithNotifier(n call.Notifier) *Reaper {
	r.notifier = n
	return r
}

// Start sweeps once immediately and then on every tick until ctx is done
func (r *Reaper) Start(ctx context.Context) {
	logger.Info("Zombie call reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("max_duration", r.maxDuration))

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Zombie call reaper stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep. A failure on one session is logged and
// counted; the remaining candidates are still processed.
func (r *Reaper) RunOnce(ctx context.Context) Result {
	var result Result
	cutoff := r.now().Add(-r.maxDuration)

	candidates, err := r.store.FindStaleSessions(ctx, cutoff)
	if err != nil {
		logger.Error("Failed to list stale calls", zap.Error(err))
		result.Errors++
		r.metrics.RecordReaperRun(result.Cleaned, result.Errors)
		return result
	}

	for _, candidate := range candidates {
		cleaned, err := r.closeSession(ctx, candidate.ID, cutoff)
		if err != nil {
			result.Errors++
			logger.Error("Failed to close abandoned call",
				append(logger.CallFields("reap", candidate.ID.String(), ""), zap.Error(err))...)
			continue
		}
		if cleaned {
			result.Cleaned++
		}
	}

	if result.Cleaned > 0 || result.Errors > 0 {
		logger.Info("Zombie call sweep finished",
			zap.Int("cleaned", result.Cleaned),
			zap.Int("errors", result.Errors))
	}
	r.metrics.RecordReaperRun(result.Cleaned, result.Errors)
	return result
}

// closeSession ends one candidate, re-checking under lock that it is
// still live and still past the cutoff
func (r *Reaper) closeSession(ctx context.Context, callID uuid.UUID, cutoff time.Time) (bool, error) {
	var closed *domain.CallSession
	err := r.store.WithTransaction(ctx, func(tx repository.CallTx) error {
		closed = nil

		session, err := tx.LockSession(ctx, callID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !session.Status.IsLive() || !session.StartedAt.Before(cutoff) {
			return nil
		}

		now := r.now()
		if _, err := tx.MarkAllParticipantsLeft(ctx, callID, now); err != nil {
			return err
		}
		session.Terminate(domain.CallStatusEnded, domain.EndReasonZombieCleanup, now)
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		closed = session
		return nil
	})
	if err != nil || closed == nil {
		return false, err
	}

	duration := time.Duration(*closed.Duration) * time.Second
	r.metrics.RecordCallEnded(string(closed.Status), domain.EndReasonZombieCleanup, duration)
	if r.notifier != nil {
		r.notifier.CallTerminated(&call.CallState{Session: closed})
	}
	return true, nil
}
