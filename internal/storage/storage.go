// Package storage defines the cache store contract and shared value types.
//
// The concrete implementation lives in the sqlite sub-package. Consumers
// depend on this interface rather than on the concrete type so that
// alternative implementations (mocks, proxies, etc.) can be substituted.
// The store owns all persisted state; no other component mutates storage
// directly.
package storage

import (
	"context"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/filter"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Envelope wraps every cached payload with freshness bookkeeping. A row is
// valid iff now < ExpiresAt; CachedAt < ExpiresAt always holds.
type Envelope struct {
	Kind       types.EntityKind `json:"kind"`
	ID         string           `json:"id"`
	Payload    []byte           `json:"payload"`
	SourceHash string           `json:"source_hash,omitempty"`
	CachedAt   time.Time        `json:"cached_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// Valid reports whether the envelope is fresh at the given instant.
func (e Envelope) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// RecordQuery is a compiled read against one table's record cache. The
// condition comes from the filter compiler; Sort entries route through the
// same JSON accessors. Limit <= 0 means no limit.
type RecordQuery struct {
	Condition filter.Condition
	Sort      []SortKey
	Limit     int
	Offset    int
}

// SortKey is one ORDER BY term. Expr is a compiled accessor expression over
// the data column; null keys order last regardless of direction.
type SortKey struct {
	Expr       string
	Descending bool
}

// RecordPage is the result of a record query: the matching page plus the
// counts the response header reports.
type RecordPage struct {
	Records       []types.Record
	TotalCount    int // all rows cached for the table
	FilteredCount int // rows matching the condition, before paging
}

// Scope selects the cache rows an Invalidate call affects. Kind is required;
// SolutionID narrows a tables invalidation, TableID narrows a records one.
// StructureChanged forces row deletion instead of the cheaper expiry mark.
type Scope struct {
	Kind             types.EntityKind
	ID               string
	SolutionID       string
	TableID          string
	StructureChanged bool
}

// KindStatus is one entity class's line in a cache status report. For record
// entries Kind carries the table id.
type KindStatus struct {
	Kind       string     `json:"kind"`
	Count      int        `json:"count"`
	NextExpiry *time.Time `json:"next_expiry,omitempty"`
	TTLSeconds int        `json:"ttl_seconds,omitempty"`
}

// Status reports cache contents per entity class, with one records entry per
// cached table.
type Status struct {
	Entities []KindStatus `json:"entities"`
	Schemas  []KindStatus `json:"schemas"`
	Records  []KindStatus `json:"records"`
}

// Store is the cache store contract. All freshness is TTL-based; mutations
// never invalidate.
type Store interface {
	// Typed entity envelopes.
	PutEntity(ctx context.Context, kind types.EntityKind, id string, payload []byte, ttl time.Duration) error
	GetEntity(ctx context.Context, kind types.EntityKind, id string) (Envelope, error)
	// PutEntityList replaces the cached set for a kind in one transaction so
	// list reads never observe a half-written class.
	PutEntityList(ctx context.Context, kind types.EntityKind, ids []string, payloads [][]byte, ttl time.Duration) error
	ListEntities(ctx context.Context, kind types.EntityKind) ([]Envelope, error)

	// Table schemas, cached independently of records (longer TTL).
	PutTableSchema(ctx context.Context, tableID string, structure []types.Field, ttl time.Duration) error
	GetTableSchema(ctx context.Context, tableID string) ([]types.Field, error)

	// Records. PutRecords clears all existing rows for the table atomically
	// when the written schema differs structurally from the stored one.
	// PutRecord never compares schemas; it reflects mutation responses.
	PutRecords(ctx context.Context, tableID string, structure []types.Field, records []types.Record, ttl time.Duration) error
	PutRecord(ctx context.Context, tableID string, record types.Record) error
	DeleteRecord(ctx context.Context, tableID, recordID string) error
	GetRecords(ctx context.Context, tableID string, q RecordQuery) (RecordPage, error)
	GetRecord(ctx context.Context, tableID, recordID string) (types.Record, error)
	// RecordsValid reports whether the table's record cache is in the valid
	// state (populated and unexpired).
	RecordsValid(ctx context.Context, tableID string) (bool, error)

	Invalidate(ctx context.Context, scope Scope) error
	Status(ctx context.Context) (Status, error)
	Close() error
}
