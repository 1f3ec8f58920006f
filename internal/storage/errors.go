package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist in the
// cache. A normal outcome, never logged as an error.
var ErrNotFound = errors.New("not found")

// ErrExpired is returned when a requested entity exists but its TTL has
// lapsed. Callers treat it like a miss and refetch.
var ErrExpired = errors.New("expired")

// CacheUnavailableError wraps a storage I/O failure. Callers must treat the
// cache as absent and fall through to the upstream fetch.
type CacheUnavailableError struct {
	Op  string
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("cache unavailable during %s: %v", e.Op, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }

// IsUnavailable checks if an error is or wraps CacheUnavailableError.
func IsUnavailable(err error) bool {
	var unavailable *CacheUnavailableError
	return errors.As(err, &unavailable)
}

// SchemaMismatchError is returned when put_records carries a structurally
// incompatible schema and the atomic clear cannot be performed.
type SchemaMismatchError struct {
	TableID string
	Err     error
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on table %s: %v", e.TableID, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }
