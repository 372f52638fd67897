package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after a run of consecutive failures and lets a single
// probe through once the cool-down has elapsed.
type CircuitBreaker struct {
	mu sync.Mutex

	maxFailures   int
	halfOpenAfter time.Duration
	now           func() time.Time

	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(maxFailures int, halfOpenAfter time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{maxFailures: maxFailures, halfOpenAfter: halfOpenAfter, now: time.Now}
}

// Allow returns whether a request is permitted.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateOpen:
		if c.now().Sub(c.openedAt) < c.halfOpenAfter {
			return false
		}
		c.state = stateHalfOpen
		c.probing = true
		return true
	case stateHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

// RecordResult records a success or failure outcome.
func (c *CircuitBreaker) RecordResult(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.state = stateClosed
		c.failures = 0
		c.probing = false
		return
	}
	switch c.state {
	case stateHalfOpen:
		c.open()
	case stateClosed:
		c.failures++
		if c.failures >= c.maxFailures {
			c.open()
		}
	}
}

// State returns closed, open or half-open.
func (c *CircuitBreaker) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func (c *CircuitBreaker) open() {
	c.state = stateOpen
	c.openedAt = c.now()
	c.probing = false
	counter, _ := otel.Meter("binscan").Int64Counter("binscan_resilience_circuit_open_total")
	counter.Add(context.Background(), 1)
}
