package concurrency

import (
	"sync"
	"sync/atomic"
	"time"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// BreakerState is the state of a circuit breaker
type BreakerState int32

const (
	// BreakerClosed lets calls through
	BreakerClosed BreakerState = 0

	// BreakerOpen rejects calls until the reset timeout elapses
	BreakerOpen BreakerState = 1

	// BreakerHalfOpen lets calls through on probation
	BreakerHalfOpen BreakerState = 2
)

// String returns the state name used in logs
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops hammering the runner after repeated transport failures.
// Only failures the caller classifies as transport failures should be
// recorded; a runner that rejects a plan is reachable and must not trip it.
type CircuitBreaker struct {
	state                int32 // atomic: BreakerState
	consecutiveFailures  int64 // atomic
	consecutiveSuccesses int64 // atomic
	lastFailure          int64 // atomic: unix nanos

	failureThreshold int64
	successThreshold int64
	resetTimeout     time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker that opens after failureThreshold
// consecutive failures and probes again after resetTimeout
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		state:            int32(BreakerClosed),
		failureThreshold: failureThreshold,
		successThreshold: 2,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open. Once the reset
// timeout has passed the breaker moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow() error {
	if BreakerState(atomic.LoadInt32(&cb.state)) != BreakerOpen {
		return nil
	}

	last := atomic.LoadInt64(&cb.lastFailure)
	if last > 0 && cb.now().Sub(time.Unix(0, last)) >= cb.resetTimeout {
		cb.transitionTo(BreakerHalfOpen)
		return nil
	}
	return sdkerrors.NewUnavailableError("runner circuit is open", sdkerrors.CodeCircuitOpen, sdkerrors.ErrCircuitOpen)
}

// RecordSuccess closes a half-open breaker after enough consecutive successes
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.consecutiveFailures, 0)

	if BreakerState(atomic.LoadInt32(&cb.state)) != BreakerHalfOpen {
		return
	}
	if atomic.AddInt64(&cb.consecutiveSuccesses, 1) >= cb.successThreshold {
		cb.transitionTo(BreakerClosed)
	}
}

// RecordFailure counts a transport failure. Any failure while half-open reopens.
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt64(&cb.lastFailure, cb.now().UnixNano())
	failures := atomic.AddInt64(&cb.consecutiveFailures, 1)

	switch BreakerState(atomic.LoadInt32(&cb.state)) {
	case BreakerClosed:
		if failures >= cb.failureThreshold {
			cb.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.transitionTo(BreakerOpen)
	}
}

// State returns the current state without triggering the half-open probe
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&cb.state))
}

// ConsecutiveFailures returns the current failure streak
func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	return atomic.LoadInt64(&cb.consecutiveFailures)
}

// Reset closes the breaker and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.transitionTo(BreakerClosed)
	atomic.StoreInt64(&cb.lastFailure, 0)
}

func (cb *CircuitBreaker) transitionTo(next BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if BreakerState(atomic.LoadInt32(&cb.state)) == next {
		return
	}
	atomic.StoreInt32(&cb.state, int32(next))

	switch next {
	case BreakerClosed:
		atomic.StoreInt64(&cb.consecutiveFailures, 0)
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	case BreakerHalfOpen:
		atomic.StoreInt64(&cb.consecutiveSuccesses, 0)
	}
}
