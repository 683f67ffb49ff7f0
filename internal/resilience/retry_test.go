package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"orderwatch/pkg/logx"
)

func testWrapper(threshold int, cooldown time.Duration) *Wrapper {
	return New(Config{
		Policy:           Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		BreakerThreshold: threshold,
		BreakerCooldown:  cooldown,
	}, logx.Nop())
}

func TestRetryExhaustionAttemptCount(t *testing.T) {
	t.Parallel()
	w := testWrapper(100, time.Minute)

	var calls atomic.Int32
	boom := errors.New("connection dropped")
	err := w.ExecuteWithRetry(context.Background(), "source.fetch",
		Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
		func(ctx context.Context) error {
			calls.Add(1)
			return Transient(boom)
		})

	if err == nil {
		t.Fatal("expected final error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("final error does not wrap cause: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3 (1 + 2 retries)", got)
	}

	st := w.Stats()
	if st.TotalRetries != 2 {
		t.Fatalf("TotalRetries = %d, want 2", st.TotalRetries)
	}
	if st.FailedRetries != 1 {
		t.Fatalf("FailedRetries = %d, want 1", st.FailedRetries)
	}
}

func TestNoRetryPropagatesImmediately(t *testing.T) {
	t.Parallel()
	w := testWrapper(100, time.Minute)

	var calls atomic.Int32
	err := w.Execute(context.Background(), "source.fetch", func(ctx context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("missing credentials"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", calls.Load())
	}
	if w.Stats().TotalRetries != 0 {
		t.Fatalf("TotalRetries = %d, want 0", w.Stats().TotalRetries)
	}
}

func TestSuccessAfterRetry(t *testing.T) {
	t.Parallel()
	w := testWrapper(100, time.Minute)

	var calls atomic.Int32
	err := w.Execute(context.Background(), "transport.send", func(ctx context.Context) error {
		if calls.Add(1) < 2 {
			return Transient(errors.New("timeout"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("attempts = %d, want 2", calls.Load())
	}
	st := w.Stats()
	if st.TotalRetries != 1 || st.FailedRetries != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBreakerOpensAfterThresholdAndFailsFast(t *testing.T) {
	t.Parallel()
	w := testWrapper(2, time.Hour)

	var calls atomic.Int32
	fail := func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("permanent")
	}

	// Two failed executions (non-retryable, so one attempt each) trip the breaker.
	_ = w.ExecuteWithRetry(context.Background(), "dep", Policy{MaxRetries: 1, BaseDelay: time.Millisecond}, fail)
	_ = w.ExecuteWithRetry(context.Background(), "dep", Policy{MaxRetries: 1, BaseDelay: time.Millisecond}, fail)

	before := calls.Load()
	err := w.Execute(context.Background(), "dep", fail)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != before {
		t.Fatal("operation was invoked while breaker open")
	}
	if w.Stats().FastFails != 1 {
		t.Fatalf("FastFails = %d, want 1", w.Stats().FastFails)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	t.Parallel()
	b := newBreaker(1, 10*time.Millisecond)
	now := time.Now()

	b.recordFailure(now)
	if b.snapshot("d").State != StateOpen {
		t.Fatal("expected open after threshold")
	}
	if b.allow(now.Add(time.Millisecond)) {
		t.Fatal("open breaker must refuse before cooldown")
	}

	// Cooldown elapsed: exactly one trial is admitted.
	later := now.Add(20 * time.Millisecond)
	if !b.allow(later) {
		t.Fatal("expected trial call after cooldown")
	}
	if b.snapshot("d").State != StateHalfOpen {
		t.Fatal("expected half-open during trial")
	}
	if b.allow(later) {
		t.Fatal("second concurrent trial must be refused")
	}

	// Failed trial re-opens and restarts the cooldown.
	b.recordFailure(later)
	if b.snapshot("d").State != StateOpen {
		t.Fatal("expected open after failed trial")
	}
	if b.allow(later.Add(time.Millisecond)) {
		t.Fatal("cooldown must restart after failed trial")
	}

	// Successful trial closes.
	if !b.allow(later.Add(30 * time.Millisecond)) {
		t.Fatal("expected trial after second cooldown")
	}
	b.recordSuccess()
	snap := b.snapshot("d")
	if snap.State != StateClosed || snap.ConsecutiveFailures != 0 {
		t.Fatalf("expected closed breaker with zero failures, got %+v", snap)
	}
}

func TestResetStatsClosesBreakers(t *testing.T) {
	t.Parallel()
	w := testWrapper(1, time.Hour)
	_ = w.ExecuteWithRetry(context.Background(), "dep", Policy{MaxRetries: 1, BaseDelay: time.Millisecond},
		func(ctx context.Context) error { return errors.New("x") })

	if w.Stats().Breakers[0].State != StateOpen {
		t.Fatal("expected open breaker")
	}
	w.ResetStats()
	st := w.Stats()
	if st.TotalRetries != 0 || st.FailedRetries != 0 || st.FastFails != 0 {
		t.Fatalf("counters not cleared: %+v", st)
	}
	if st.Breakers[0].State != StateClosed {
		t.Fatalf("breaker not closed after reset: %+v", st.Breakers[0])
	}
}

func TestHealthVerdicts(t *testing.T) {
	t.Parallel()
	w := testWrapper(1, time.Hour)

	if rep := w.PerformHealthCheck(); rep.Overall != Healthy {
		t.Fatalf("empty wrapper should be healthy, got %s", rep.Overall)
	}

	_ = w.ExecuteWithRetry(context.Background(), "transport.send", Policy{MaxRetries: 1, BaseDelay: time.Millisecond},
		func(ctx context.Context) error { return errors.New("down") })

	rep := w.PerformHealthCheck()
	if rep.Overall != Critical {
		t.Fatalf("open breaker should be critical, got %s", rep.Overall)
	}
	if len(rep.Recommendations) == 0 {
		t.Fatal("expected a recommendation")
	}
}
