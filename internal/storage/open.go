package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"orderwatch/pkg/logx"
)

// Store is the minimal persistence API the engine's ledgers use to survive
// restarts. Writes are best-effort; correctness never depends on them.
type Store interface {
	PutDedup(ctx context.Context, key string, lastSentAt time.Time) error
	LoadDedup(ctx context.Context) ([]DedupRecord, error)
	PutStatus(ctx context.Context, orderID, status string, observedAt time.Time) error
	LoadStatuses(ctx context.Context) ([]StatusRecord, error)
	ClearDedup(ctx context.Context) error
	ClearStatuses(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
