package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gridbase/gridbase-mcp/internal/storage"
)

// wrapDBError classifies a database error for callers: sql.ErrNoRows becomes
// the NotFound sentinel (a normal outcome), everything else is a storage I/O
// failure surfaced as CacheUnavailable so the caller falls back to upstream.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
		return err
	}
	if storage.IsUnavailable(err) {
		return err
	}
	return &storage.CacheUnavailableError{Op: op, Err: err}
}
