package router

import (
	"sync"
	"time"

	"aolcore/internal/config"
)

// BreakerState is the circuit breaker state for one instance.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards one instance against repeated failures. Closed
// circuits count consecutive failures; at the threshold the circuit opens and
// requests fail fast. After the timeout a single probe request is admitted at
// a time; the configured number of consecutive probe successes closes the
// circuit again, any probe failure reopens it.
type CircuitBreaker struct {
	mu sync.Mutex

	state         BreakerState
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	// now is swapped out by tests.
	now func() time.Time
}

func newCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout.Std(),
		now:              time.Now,
	}
}

// Allow reports whether a request may proceed. In the half-open state only
// one probe request is admitted at a time.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.successes = 0
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess feeds a successful call result into the state machine.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
		}
	}
}

// RecordFailure feeds a failed call result into the state machine.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
