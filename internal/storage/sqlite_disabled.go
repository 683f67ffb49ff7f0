//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	"orderwatch/pkg/logx"
)

// openSQLite is a stub used when the binary is built without the "sqlite"
// build tag. Keeps the default build free of the sqlite dependency tree.
func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	return nil, errors.New("sqlite storage driver not built in (rebuild with -tags sqlite)")
}
