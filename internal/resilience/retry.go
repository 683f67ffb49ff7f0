// Package resilience wraps calls to unreliable remote dependencies with a
// retry policy and a per-dependency circuit breaker, and aggregates their
// state into a health verdict.
package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"orderwatch/pkg/logx"
)

// Policy controls the retry loop for one call.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64 // 0.2 = 20%
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Config controls the wrapper itself.
type Config struct {
	Policy           Policy
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Stats is a counter snapshot across all wrapped dependencies.
type Stats struct {
	TotalRetries  uint64            `json:"total_retries"`
	FailedRetries uint64            `json:"failed_retries"`
	FastFails     uint64            `json:"fast_fails"`
	Breakers      []BreakerSnapshot `json:"breakers"`
}

// Wrapper executes remote operations under retry + circuit breaking.
// One breaker is kept per label; labels identify dependencies, not calls.
type Wrapper struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	rng      *rand.Rand
	breakers map[string]*breaker

	totalRetries  uint64
	failedRetries uint64
	fastFails     uint64
}

func New(cfg Config, log logx.Logger) *Wrapper {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Policy = cfg.Policy.withDefaults()
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	return &Wrapper{
		cfg:      cfg,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		breakers: make(map[string]*breaker),
	}
}

func (w *Wrapper) breakerFor(label string) *breaker {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.breakers[label]
	if b == nil {
		b = newBreaker(w.cfg.BreakerThreshold, w.cfg.BreakerCooldown)
		w.breakers[label] = b
	}
	return b
}

// Execute runs op under the wrapper's default policy.
func (w *Wrapper) Execute(ctx context.Context, label string, op func(ctx context.Context) error) error {
	w.mu.Lock()
	p := w.cfg.Policy
	w.mu.Unlock()
	return w.ExecuteWithRetry(ctx, label, p, op)
}

// ExecuteWithRetry attempts op up to 1+MaxRetries times with exponential
// backoff, consulting the label's circuit breaker first. Non-retryable
// errors propagate immediately; the final error is tagged with the label
// and attempt count.
func (w *Wrapper) ExecuteWithRetry(ctx context.Context, label string, p Policy, op func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.withDefaults()

	b := w.breakerFor(label)
	if !b.allow(time.Now()) {
		w.mu.Lock()
		w.fastFails++
		w.mu.Unlock()
		w.log.Debug("call refused, breaker open", logx.String("dep", label))
		return fmt.Errorf("%s: %w", label, ErrCircuitOpen)
	}

	maxAttempts := 1 + p.MaxRetries
	var err error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = op(ctx)
		if err == nil {
			b.recordSuccess()
			if attempt > 1 {
				w.log.Debug("call recovered", logx.String("dep", label), logx.Int("attempts", attempt))
			}
			return nil
		}
		if !IsRetryable(err) || attempt >= maxAttempts {
			break
		}

		delay := w.backoff(p, attempt)
		w.mu.Lock()
		w.totalRetries++
		w.mu.Unlock()
		w.log.Debug("call retry scheduled",
			logx.String("dep", label), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			b.recordFailure(time.Now())
			return fmt.Errorf("%s: %d attempt(s): %w", label, attempts, ctx.Err())
		case <-tmr.C:
		}
	}

	b.recordFailure(time.Now())
	w.mu.Lock()
	w.failedRetries++
	w.mu.Unlock()
	w.log.Warn("call failed",
		logx.String("dep", label), logx.Int("attempts", attempts), logx.Err(err))
	return fmt.Errorf("%s: %d attempt(s): %w", label, attempts, err)
}

// backoff is BaseDelay * 2^(attempt-1), capped at MaxDelay, with jitter.
func (w *Wrapper) backoff(p Policy, attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		w.mu.Lock()
		r := (w.rng.Float64()*2 - 1) * p.Jitter
		w.mu.Unlock()
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Stats returns retry counters and a per-dependency breaker snapshot.
func (w *Wrapper) Stats() Stats {
	w.mu.Lock()
	st := Stats{
		TotalRetries:  w.totalRetries,
		FailedRetries: w.failedRetries,
		FastFails:     w.fastFails,
	}
	labels := make([]string, 0, len(w.breakers))
	for label := range w.breakers {
		labels = append(labels, label)
	}
	breakers := make(map[string]*breaker, len(w.breakers))
	for label, b := range w.breakers {
		breakers[label] = b
	}
	w.mu.Unlock()

	sort.Strings(labels)
	for _, label := range labels {
		st.Breakers = append(st.Breakers, breakers[label].snapshot(label))
	}
	return st
}

// ResetStats clears all counters and returns every breaker to closed.
func (w *Wrapper) ResetStats() {
	w.mu.Lock()
	w.totalRetries = 0
	w.failedRetries = 0
	w.fastFails = 0
	breakers := make([]*breaker, 0, len(w.breakers))
	for _, b := range w.breakers {
		breakers = append(breakers, b)
	}
	w.mu.Unlock()

	for _, b := range breakers {
		b.reset()
	}
}
