// Package ratelimit provides process-local fixed-window counters keyed by
// operation class and caller identity.
//
// Counters are not shared between instances; every replica enforces its
// own budget.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"lingochat-backend/pkg/logger"
)

// Operation names a rate-limit class
type Operation string

const (
	OpInitiate    Operation = "initiate"
	OpJoin        Operation = "join"
	OpSignal      Operation = "signal"
	OpLeave       Operation = "leave"
	OpMediaToggle Operation = "media-toggle"
	OpHTTP        Operation = "http"
)

// Limit is the budget of one class
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits are the per-identity budgets for call operations
var DefaultLimits = map[Operation]Limit{
	OpInitiate:    {Max: 5, Window: time.Minute},
	OpJoin:        {Max: 20, Window: time.Minute},
	OpSignal:      {Max: 100, Window: 10 * time.Second},
	OpLeave:       {Max: 20, Window: time.Minute},
	OpMediaToggle: {Max: 50, Window: time.Minute},
	OpHTTP:        {Max: 120, Window: time.Minute},
}

// Decision is the outcome of one Check
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

type window struct {
	count   int
	resetAt time.Time
}

type windowKey struct {
	op  Operation
	key string
}

// Limiter tracks fixed windows per (operation, key)
type Limiter struct {
	mu      sync.Mutex
	limits  map[Operation]Limit
	windows map[windowKey]*window
	now     func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLimit overrides the budget of one class
func WithLimit(op Operation, limit Limit) Option {
	return func(l *Limiter) { l.limits[op] = limit }
}

// New creates a limiter using DefaultLimits
func New(opts ...Option) *Limiter {
	l := &Limiter{
		limits:  make(map[Operation]Limit, len(DefaultLimits)),
		windows: make(map[windowKey]*window),
		now:     time.Now,
	}
	for op, limit := range DefaultLimits {
		l.limits[op] = limit
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request against (op, key). A rejected request leaves
// the window untouched. Unknown operations are always allowed.
func (l *Limiter) Check(op Operation, key string) Decision {
	limit, ok := l.limits[op]
	if !ok || limit.Max <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	k := windowKey{op: op, key: key}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(limit.Window)}
		l.windows[k] = w
	}

	if w.count >= limit.Max {
		return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}
	}

	w.count++
	return Decision{Allowed: true}
}

// LimitFor returns the configured limit of an operation class
func (l *Limiter) LimitFor(op Operation) Limit {
	return l.limits[op]
}

// Sweep drops expired windows and returns how many were removed
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked windows
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// StartSweeper runs Sweep every interval until ctx is cancelled. onSweep,
// if set, receives the window count after each pass.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(size int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := l.Sweep()
			size := l.Size()
			if removed > 0 {
				logger.Debug("Rate limit windows swept",
					zap.Int("removed", removed),
					zap.Int("remaining", size))
			}
			if onSweep != nil {
				onSweep(size)
			}
		}
	}
}
