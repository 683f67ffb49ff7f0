package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrCircuitOpen is returned when a call is refused without being attempted
// because the dependency's breaker is open. It is a distinct condition from
// a retried-and-exhausted failure and is counted separately in stats.
var ErrCircuitOpen = errors.New("circuit breaker open")

// NoRetry marks an error as non-retryable.
//
// Callers wrap configuration or validation failures with NoRetry so the
// executor won't waste attempts on them.
//
// Example:
//
//	return resilience.NoRetry(fmt.Errorf("bad credentials: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// Transient marks an error as explicitly retryable, for failures the
// network-level classifier cannot see (e.g. an HTTP 5xx body).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

type transientError struct{ err error }

func (e transientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }
func (e transientError) Unwrap() error { return e.err }

// IsRetryable classifies an error for the retry loop. Explicit markers win;
// otherwise network-shaped failures (timeouts, connection reset/refused) are
// treated as transient and everything else as permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsNoRetry(err) {
		return false
	}
	var te transientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}
