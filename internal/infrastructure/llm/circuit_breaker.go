package llm

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing, reject calls
	CircuitHalfOpen                     // testing recovery with a single probe
)

// String returns a human-readable label for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures per provider. Past the
// threshold the circuit opens and calls are rejected without touching the
// provider; after the cooldown a single probe is let through, and its
// outcome decides whether the circuit closes again or re-opens.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            CircuitState
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	changedAt        time.Time
	probeInFlight    bool

	now func() time.Time // swappable in tests
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and probes again after cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While half-open only one probe
// is admitted at a time; concurrent callers are rejected until the probe
// resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cooldown {
			cb.transition(CircuitHalfOpen)
			cb.probeInFlight = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful call. A successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == CircuitHalfOpen {
		cb.probeInFlight = false
		cb.transition(CircuitClosed)
	}
}

// RecordFailure records a failed call. A failed probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	if cb.state == CircuitHalfOpen {
		cb.probeInFlight = false
		cb.openedAt = cb.now()
		cb.transition(CircuitOpen)
		return
	}

	if cb.state == CircuitClosed && cb.failureCount >= cb.failureThreshold {
		cb.openedAt = cb.now()
		cb.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// StateChangedAt returns when the breaker last changed state.
func (cb *CircuitBreaker) StateChangedAt() time.Time {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.changedAt
}

// Reset forces the circuit back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.probeInFlight = false
	cb.transition(CircuitClosed)
}

// transition must be called with the lock held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state != to {
		cb.state = to
		cb.changedAt = cb.now()
	}
}
