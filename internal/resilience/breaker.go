package resilience

import (
	"sync"
	"time"
)

// BreakerState is the classic three-state circuit breaker lifecycle.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerSnapshot is a read-only view of one breaker for stats/health.
type BreakerSnapshot struct {
	Label               string       `json:"label"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
}

// breaker guards a single remote dependency.
//
// closed: calls pass; each failure increments consecutiveFailures and
// crossing threshold opens the breaker. open: calls fail fast until cooldown
// elapses, then the breaker moves to half-open and admits exactly one trial
// call. The trial's outcome decides: success closes, failure re-opens and
// restarts the cooldown.
type breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	state         BreakerState
	fails         int
	openedAt      time.Time
	trialInFlight bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &breaker{threshold: threshold, cooldown: cooldown, state: StateClosed}
}

// allow reports whether a call may proceed right now.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return true
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	b.state = StateClosed
	b.fails = 0
	b.openedAt = time.Time{}
	b.trialInFlight = false
	b.mu.Unlock()
}

func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		// Failed trial call: back to open, cooldown restarts.
		b.state = StateOpen
		b.openedAt = now
		b.trialInFlight = false
		return
	}

	b.fails++
	if b.fails >= b.threshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

func (b *breaker) reset() {
	b.mu.Lock()
	b.state = StateClosed
	b.fails = 0
	b.openedAt = time.Time{}
	b.trialInFlight = false
	b.mu.Unlock()
}

func (b *breaker) snapshot(label string) BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Label:               label,
		State:               b.state,
		ConsecutiveFailures: b.fails,
		OpenedAt:            b.openedAt,
	}
}
