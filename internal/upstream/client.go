// Package upstream is the GridBase remote API collaborator: the only
// I/O-heavy blocking step in a request. Its responses are authoritative
// input to the cache; upstream errors pass through to callers unchanged.
package upstream

import (
	"context"

	"github.com/gridbase/gridbase-mcp/internal/types"
)

// TableRecords is one full-table fetch: every record the upstream holds for
// the table, the authoritative total, and the table structure when the
// upstream includes it.
type TableRecords struct {
	Items      []types.Record
	TotalCount int
	Structure  []types.Field
}

// Client is the remote API surface the bridge consumes. Implementations must
// honour context cancellation; the per-request deadline cancels in-flight
// fetches.
//
// When hydrated is true the upstream expands reference values (user ids,
// linked-record ids) to human-readable forms; hydrated responses are for
// display only and must not be cached as canonical record data.
type Client interface {
	FetchTableRecords(ctx context.Context, tableID string, hydrated bool) (TableRecords, error)
	FetchRecord(ctx context.Context, tableID, recordID string) (types.Record, error)

	FetchSolutions(ctx context.Context) ([]types.Solution, error)
	FetchSolution(ctx context.Context, id string) (types.Solution, error)
	FetchTables(ctx context.Context, solutionID string) ([]types.Table, error)
	FetchTable(ctx context.Context, id string) (types.Table, error)
	FetchMembers(ctx context.Context) ([]types.Member, error)
	FetchMember(ctx context.Context, id string) (types.Member, error)
	// FetchSelf returns the member profile the API key authenticates as.
	FetchSelf(ctx context.Context) (types.Member, error)
	FetchTeams(ctx context.Context) ([]types.Team, error)
	FetchViews(ctx context.Context, tableID string) ([]types.View, error)
	FetchDeletedRecords(ctx context.Context, solutionID string) ([]types.DeletedRecord, error)

	CreateRecord(ctx context.Context, tableID string, data map[string]any) (types.Record, error)
	UpdateRecord(ctx context.Context, tableID, recordID string, data map[string]any) (types.Record, error)
	DeleteRecord(ctx context.Context, tableID, recordID string) error

	ListComments(ctx context.Context, tableID, recordID string) ([]types.Comment, error)
	AddComment(ctx context.Context, tableID, recordID, text string) (types.Comment, error)
}
