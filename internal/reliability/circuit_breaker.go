/*-------------------------------------------------------------------------
 *
 * circuit_breaker.go
 *    Circuit breaker for external collaborator calls
 *
 * Wraps calls to the ad platform, scraping provider and inference
 * service. After maxFailures consecutive failures the breaker opens and
 * rejects calls until resetTimeout has elapsed, then lets one probe
 * through in the half-open state.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/reliability/circuit_breaker.go
 *
 *-------------------------------------------------------------------------
 */

package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rakshittt/grow/internal/metrics"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

/* CircuitState represents circuit breaker state */
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	state         CircuitState
	failureCount  int
	lastFailure   time.Time
	probing       bool
	now           func() time.Time
	mu            sync.Mutex
	onStateChange func(name string, from, to CircuitState)
}

func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

/* Execute runs fn unless the circuit is open. Caller cancellation is not counted as a failure. */
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	if err != nil && !errors.Is(err, context.Canceled) && !IsPermanent(err) {
		cb.failureCount++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return err
	}

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
	cb.failureCount = 0
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return fmt.Errorf("%w: service=%s", ErrCircuitOpen, cb.name)
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		/* only one probe at a time */
		if cb.probing {
			return fmt.Errorf("%w: service=%s, probe in flight", ErrCircuitOpen, cb.name)
		}
		cb.probing = true
	}
	return nil
}

/* transition must be called with mu held */
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateHalfOpen || to == StateClosed {
		cb.failureCount = 0
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
	metrics.InfoWithContext(context.Background(), "Circuit breaker state changed", map[string]interface{}{
		"circuit": cb.name,
		"from":    string(from),
		"to":      string(to),
	})
}

/* GetState returns current circuit breaker state */
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

/* SetStateChangeCallback sets callback for state changes */
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = callback
}
