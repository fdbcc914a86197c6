package marketdata

import (
	"sync"
	"time"
)

// breakerState is one of closed, open, half-open (§4.4). No circuit-breaker
// library appears anywhere in the example corpus, so this is hand-rolled —
// see DESIGN.md.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type circuitBreaker struct {
	mu sync.Mutex

	state            breakerState
	consecutiveFails int
	openedAt         time.Time

	failureThreshold int
	cooldown         time.Duration
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		state:            breakerClosed,
		failureThreshold: 5,
		cooldown:         60 * time.Second,
	}
}

// allow reports whether a call may proceed, transitioning open → half-open
// once the cooldown has elapsed.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		// Only one probe at a time conceptually; we allow call-through and
		// let recordSuccess/recordFailure decide the next state.
		return true
	default:
		return false
	}
}

// recordSuccess closes the breaker — a single success while half-open closes it.
func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.consecutiveFails = 0
}

// recordFailure increments the failure streak, opening the breaker once the
// threshold of 5 consecutive failures is reached.
func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

func (b *circuitBreaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && time.Since(b.openedAt) < b.cooldown
}
