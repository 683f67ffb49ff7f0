package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the optional persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and the ledgers are
// memory-only (accepted at-least-once behavior after a restart).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DedupRecord is a persisted duplicate-ledger entry.
type DedupRecord struct {
	Key        string
	LastSentAt time.Time
}

// StatusRecord is a persisted last-observed-status entry.
type StatusRecord struct {
	OrderID    string
	Status     string
	ObservedAt time.Time
}
