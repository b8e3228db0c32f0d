// Package circuitbreaker tracks per-gateway health and blocks sends to a
// gateway that keeps failing, so one sick gateway cannot tie up every
// purchase in slow timeouts.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of one gateway's circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

const (
	defaultFailureThreshold         = 5
	defaultOpenStateTimeout         = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 2
)

type gatewayState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	openUntil            time.Time
}

// CircuitBreaker is an in-memory breaker keyed by gateway name.
type CircuitBreaker struct {
	mu                       sync.RWMutex
	gateways                 map[string]*gatewayState
	failureThreshold         int
	openStateTimeout         time.Duration
	halfOpenSuccessThreshold int
}

// New creates a CircuitBreaker with default settings.
func New() *CircuitBreaker {
	return NewWithSettings(defaultFailureThreshold, defaultOpenStateTimeout, defaultHalfOpenSuccessThreshold)
}

// NewWithSettings creates a CircuitBreaker with custom thresholds.
func NewWithSettings(failThreshold int, openTimeout time.Duration, halfOpenSuccess int) *CircuitBreaker {
	return &CircuitBreaker{
		gateways:                 make(map[string]*gatewayState),
		failureThreshold:         failThreshold,
		openStateTimeout:         openTimeout,
		halfOpenSuccessThreshold: halfOpenSuccess,
	}
}

func (cb *CircuitBreaker) getGatewayState(name string) *gatewayState {
	// Caller must hold the write lock.
	gs, exists := cb.gateways[name]
	if !exists {
		gs = &gatewayState{state: Closed}
		cb.gateways[name] = gs
	}
	return gs
}

// Allow reports whether a send to the gateway may proceed. An expired Open
// state transitions to HalfOpen here.
func (cb *CircuitBreaker) Allow(name string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getGatewayState(name)

	switch gs.state {
	case Closed:
		return true
	case Open:
		if time.Now().After(gs.openUntil) {
			gs.state = HalfOpen
			gs.consecutiveSuccesses = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		gs.state = Closed
		return true
	}
}

// RecordFailure records a failed send for the gateway.
func (cb *CircuitBreaker) RecordFailure(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getGatewayState(name)
	gs.lastFailureTime = time.Now()

	switch gs.state {
	case Closed:
		gs.consecutiveFailures++
		if gs.consecutiveFailures >= cb.failureThreshold {
			gs.state = Open
			gs.openUntil = time.Now().Add(cb.openStateTimeout)
		}
	case HalfOpen:
		// Failure while probing re-opens the circuit immediately.
		gs.state = Open
		gs.openUntil = time.Now().Add(cb.openStateTimeout)
		gs.consecutiveFailures = 0
		gs.consecutiveSuccesses = 0
	case Open:
		return
	}
}

// RecordSuccess records a successful send for the gateway.
func (cb *CircuitBreaker) RecordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getGatewayState(name)

	switch gs.state {
	case Closed:
		gs.consecutiveFailures = 0
	case HalfOpen:
		gs.consecutiveSuccesses++
		if gs.consecutiveSuccesses >= cb.halfOpenSuccessThreshold {
			gs.state = Closed
			gs.consecutiveFailures = 0
			gs.consecutiveSuccesses = 0
		}
	case Open:
		return
	}
}

// GetState returns the current circuit state for monitoring. It never
// transitions state; Allow does that.
func (cb *CircuitBreaker) GetState(name string) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	gs, exists := cb.gateways[name]
	if !exists {
		return Closed
	}
	return gs.state
}
