package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RingScheduler holds the pending ring-timeout timer of each unanswered
// call. Answering, leaving or ending a call cancels its handle.
type RingScheduler struct {
	mu      sync.Mutex
	timeout time.Duration
	timers  map[uuid.UUID]*time.Timer
}

// NewRingScheduler creates a scheduler; a non-positive timeout disables it
func NewRingScheduler(timeout time.Duration) *RingScheduler {
	return &RingScheduler{
		timeout: timeout,
		timers:  make(map[uuid.UUID]*time.Timer),
	}
}

// Schedule arms fn to run once the ring timeout elapses. Re-scheduling a
// call replaces its previous timer.
func (r *RingScheduler) Schedule(callID uuid.UUID, fn func()) {
	if r.timeout <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.timers[callID]; ok {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(r.timeout, func() {
		r.mu.Lock()
		current, ok := r.timers[callID]
		if !ok || current != timer {
			r.mu.Unlock()
			return
		}
		delete(r.timers, callID)
		r.mu.Unlock()

		fn()
	})
	r.timers[callID] = timer
}

// Cancel stops the pending timer of a call, reporting whether one existed
func (r *RingScheduler) Cancel(callID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer, ok := r.timers[callID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(r.timers, callID)
	return true
}

// Pending returns the number of armed timers
func (r *RingScheduler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every pending timer
func (r *RingScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
