// Package gridbase provides a minimal public API for embedding the cache
// layer in custom tooling.
//
// Most integrations should talk to the running bridge over stdio instead.
// This package exports only the essential types and functions needed for
// Go programs that want to read or invalidate the cache directly.
package gridbase

import (
	"context"

	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/storage/sqlite"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Core types for working with cached workspace data
type (
	Solution = types.Solution
	Table    = types.Table
	Field    = types.Field
	Record   = types.Record
	Member   = types.Member
)

// EntityKind names one cacheable entity family.
type EntityKind = types.EntityKind

// Entity kind constants
const (
	KindSolutions      = types.KindSolutions
	KindTables         = types.KindTables
	KindMembers        = types.KindMembers
	KindTeams          = types.KindTeams
	KindViews          = types.KindViews
	KindDeletedRecords = types.KindDeletedRecords
	KindRecords        = types.KindRecords
)

// Store provides the minimal interface for direct cache access
type Store = storage.Store

// Scope selects what an invalidation touches.
type Scope = storage.Scope

// Sentinel errors for cache reads
var (
	ErrNotFound = storage.ErrNotFound
	ErrExpired  = storage.ErrExpired
)

// OpenCache opens the bridge's SQLite cache for programmatic access.
// Most callers should use this to inspect cached entities or force
// invalidation outside a running bridge.
func OpenCache(ctx context.Context, path string) (Store, error) {
	store, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, err
	}
	return store, nil
}
