//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"orderwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, lastSentAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, last_sent_at) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET last_sent_at=excluded.last_sent_at`,
		key, lastSentAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadDedup(ctx context.Context) ([]DedupRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, last_sent_at FROM dedup`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DedupRecord
	for rows.Next() {
		var key string
		var ms int64
		if err := rows.Scan(&key, &ms); err != nil {
			return nil, err
		}
		out = append(out, DedupRecord{Key: key, LastSentAt: time.UnixMilli(ms)})
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutStatus(ctx context.Context, orderID, status string, observedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if orderID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_history(order_id, status, observed_at) VALUES(?,?,?)
		 ON CONFLICT(order_id) DO UPDATE SET status=excluded.status, observed_at=excluded.observed_at`,
		orderID, status, observedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadStatuses(ctx context.Context) ([]StatusRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT order_id, status, observed_at FROM status_history`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusRecord
	for rows.Next() {
		var rec StatusRecord
		var ms int64
		if err := rows.Scan(&rec.OrderID, &rec.Status, &ms); err != nil {
			return nil, err
		}
		rec.ObservedAt = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClearDedup(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup`)
	return err
}

func (s *sqliteStore) ClearStatuses(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM status_history`)
	return err
}
