// Package rpc implements the JSON-lines protocol over stdio: one request
// object per line in, one response object per line out. Each request is
// served by one goroutine from receipt to response; multiple requests are in
// flight concurrently.
package rpc

import (
	"encoding/json"
)

// Operation names. The set is closed; unknown operations error.
const (
	OpListSolutions = "list_solutions"
	OpGetSolution   = "get_solution"
	OpListTables    = "list_tables"
	OpGetTable      = "get_table"

	OpListRecords  = "list_records"
	OpGetRecord    = "get_record"
	OpCreateRecord = "create_record"
	OpUpdateRecord = "update_record"
	OpDeleteRecord = "delete_record"

	OpListMembers = "list_members"
	OpGetMember   = "get_member"
	OpListTeams   = "list_teams"

	OpListViews          = "list_views"
	OpListDeletedRecords = "list_deleted_records"

	OpListComments = "list_comments"
	OpAddComment   = "add_comment"

	OpCacheStatus     = "cache_status"
	OpCacheInvalidate = "cache_invalidate"
	OpSetTableTTL     = "set_table_ttl"

	OpPing    = "ping"
	OpVersion = "version"
)

// Request is one line from the client.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Response is one line back. Exactly one of Result and Error is set; Error
// carries a human description, never a stack trace.
type Response struct {
	RequestID string          `json:"request_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ListSolutionsArgs narrows the solution listing with a fuzzy name query.
type ListSolutionsArgs struct {
	Name string `json:"name,omitempty"`
}

// GetByIDArgs addresses one entity.
type GetByIDArgs struct {
	ID string `json:"id"`
}

// ListTablesArgs optionally narrows to one solution's tables.
type ListTablesArgs struct {
	SolutionID string `json:"solution_id,omitempty"`
}

// ListRecordsArgs is the records query surface. Sort accepts either the
// canonical [{field, direction}] list or the compact "field-desc,other"
// string form. Hydrated asks the upstream for human-readable reference
// values; it does not change caching semantics.
type ListRecordsArgs struct {
	TableID     string          `json:"table_id"`
	Fields      []string        `json:"fields,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sort        json.RawMessage `json:"sort,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
	BypassCache bool            `json:"bypass_cache,omitempty"`
	Hydrated    bool            `json:"hydrated,omitempty"`
	Format      string          `json:"format,omitempty"`
}

// GetRecordArgs addresses one record.
type GetRecordArgs struct {
	TableID  string   `json:"table_id"`
	RecordID string   `json:"record_id"`
	Fields   []string `json:"fields,omitempty"`
	Format   string   `json:"format,omitempty"`
}

// WriteRecordArgs carries a create or update payload.
type WriteRecordArgs struct {
	TableID  string         `json:"table_id"`
	RecordID string         `json:"record_id,omitempty"` // update/delete only
	Data     map[string]any `json:"data,omitempty"`
}

// ListMembersArgs filters the member directory: exact (case-insensitive)
// email match, fuzzy name match.
type ListMembersArgs struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ListViewsArgs addresses one table's views.
type ListViewsArgs struct {
	TableID string `json:"table_id"`
}

// ListDeletedRecordsArgs addresses one solution's tombstones.
type ListDeletedRecordsArgs struct {
	SolutionID string `json:"solution_id"`
}

// CommentArgs addresses a record's comment thread.
type CommentArgs struct {
	TableID  string `json:"table_id"`
	RecordID string `json:"record_id"`
	Text     string `json:"text,omitempty"` // add_comment only
}

// InvalidateArgs is the cache_invalidate control surface; it maps onto the
// store's invalidation scope.
type InvalidateArgs struct {
	Kind             string `json:"kind"`
	ID               string `json:"id,omitempty"`
	SolutionID       string `json:"solution_id,omitempty"`
	TableID          string `json:"table_id,omitempty"`
	StructureChanged bool   `json:"structure_changed,omitempty"`
}

// SetTableTTLArgs installs a per-table TTL override at runtime.
type SetTableTTLArgs struct {
	TableID    string `json:"table_id"`
	TTLSeconds int    `json:"ttl_seconds"`
}
