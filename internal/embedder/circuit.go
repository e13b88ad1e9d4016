package embedder

import (
	"sync"
	"time"
)

// CircuitState describes the breaker's current disposition toward the model.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // normal operation
	CircuitOpen     CircuitState = "open"      // failing fast
	CircuitHalfOpen CircuitState = "half_open" // probing recovery
)

// circuitBreaker isolates the embedding model after repeated failures.
// Transitions: closed -> open after threshold consecutive failures;
// open -> half_open once the cooldown elapses; half_open -> closed on the
// next success; half_open -> open on the next failure.
type circuitBreaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	threshold   int
	cooldown    time.Duration
	now         func() time.Time // injectable for tests
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCircuitCooldown
	}
	return &circuitBreaker{
		state:     CircuitClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a model call may proceed. While open it returns false
// until the cooldown elapses, at which point the breaker moves to half_open
// and permits a single probe.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) < cb.cooldown {
			return false
		}
		cb.state = CircuitHalfOpen
	}
	return true
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
}

// RecordFailure counts a failure and opens the circuit when warranted.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset returns the breaker to closed with no recorded failures. Only the
// generator's explicit Reset path calls this.
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.lastFailure = time.Time{}
}
