// Package resilience guards calls to flaky dependencies with a circuit breaker.
package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"lingochat-backend/pkg/logger"
	"lingochat-backend/pkg/metrics"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without running the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker opens after threshold consecutive failures and stays open
// for cooldown. The first call after cooldown runs as a half-open probe;
// its outcome closes or reopens the breaker.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewCircuitBreaker creates a closed breaker. m may be nil.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, m *metrics.Metrics) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		metrics:   m,
		now:       time.Now,
		state:     CircuitBreakerClosed,
	}
}

// WithClock replaces time.Now, for tests
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.now = now
	return b
}

// Execute runs fn unless the breaker is open
func (b *CircuitBreaker) Execute(fn func() error) error {
	if !b.allow() {
		if b.metrics != nil {
			b.metrics.RecordCircuitBreakerRejected(b.name)
		}
		return ErrCircuitOpen
	}

	err := fn()
	b.record(err)
	return err
}

// State returns the current state
func (b *CircuitBreaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(CircuitBreakerHalfOpen)
		b.probing = true
		return true
	case CircuitBreakerHalfOpen:
		// one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.consecutiveFailures = 0
		if b.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker closed", zap.String("breaker", b.name))
			b.setState(CircuitBreakerClosed)
		}
		return
	}

	b.consecutiveFailures++
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.threshold {
		if b.state != CircuitBreakerOpen {
			logger.Warn("Circuit breaker opened",
				zap.String("breaker", b.name),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err))
		}
		b.openedAt = b.now()
		b.setState(CircuitBreakerOpen)
	}
}

// setState must be called with b.mu held
func (b *CircuitBreaker) setState(state CircuitBreakerState) {
	b.state = state
	if b.metrics == nil {
		return
	}
	switch state {
	case CircuitBreakerClosed:
		b.metrics.SetCircuitBreakerState(b.name, 0)
	case CircuitBreakerHalfOpen:
		b.metrics.SetCircuitBreakerState(b.name, 1)
	case CircuitBreakerOpen:
		b.metrics.SetCircuitBreakerState(b.name, 2)
	}
}
