package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/coerce"
	"github.com/gridbase/gridbase-mcp/internal/config"
	"github.com/gridbase/gridbase-mcp/internal/filter"
	"github.com/gridbase/gridbase-mcp/internal/match"
	"github.com/gridbase/gridbase-mcp/internal/query"
	"github.com/gridbase/gridbase-mcp/internal/shape"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// defaultListLimit pages record listings that do not ask for a limit.
const defaultListLimit = 100

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var args T
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("malformed args: %v", err)
	}
	return args, nil
}

func fuzzyLimits() match.EditLimits {
	limits := match.DefaultLimits()
	if n := config.GetInt("fuzzy.max_edits_short"); n > 0 {
		limits.Short = n
	}
	if n := config.GetInt("fuzzy.max_edits_long"); n > 0 {
		limits.Long = n
	}
	return limits
}

// listEnvelope is the JSON list response shape shared by the entity
// listings.
type listEnvelope struct {
	Items      any    `json:"items"`
	TotalCount int    `json:"total_count"`
	Count      int    `json:"count"`
	Source     string `json:"source,omitempty"`
}

// --- workspace entities ---

func (s *Server) handleListSolutions(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[ListSolutionsArgs](raw)
	if err != nil {
		return nil, err
	}
	solutions, source, err := s.executor.ListSolutions(ctx)
	if err != nil {
		return nil, err
	}

	limits := fuzzyLimits()
	matched := make([]types.Solution, 0, len(solutions))
	for _, sol := range solutions {
		if match.Matches(sol.Name, args.Name, limits) {
			matched = append(matched, sol)
		}
	}
	return listEnvelope{Items: matched, TotalCount: len(solutions), Count: len(matched), Source: source}, nil
}

func (s *Server) handleGetSolution(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[GetByIDArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	solution, _, err := s.executor.GetSolution(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return solution, nil
}

func (s *Server) handleListTables(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[ListTablesArgs](raw)
	if err != nil {
		return nil, err
	}
	tables, source, err := s.executor.ListTables(ctx, args.SolutionID)
	if err != nil {
		return nil, err
	}
	return listEnvelope{Items: tables, TotalCount: len(tables), Count: len(tables), Source: source}, nil
}

func (s *Server) handleGetTable(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[GetByIDArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	table, _, err := s.executor.GetTable(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return table, nil
}

// --- records ---

func (s *Server) handleListRecords(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[ListRecordsArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" {
		return nil, fmt.Errorf("table_id is required")
	}

	node, err := filter.Parse(args.Filter)
	if err != nil {
		return nil, err
	}
	sortOpts, err := parseSort(args.Sort)
	if err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	result, err := s.executor.List(ctx, query.ListRequest{
		TableID:     args.TableID,
		Filter:      node,
		Sort:        sortOpts,
		Limit:       limit,
		Offset:      args.Offset,
		BypassCache: args.BypassCache,
		Hydrated:    args.Hydrated,
	})
	if err != nil {
		return nil, err
	}

	text := shape.Records(result.Rows, shape.Request{
		Fields:        args.Fields,
		Structure:     result.Structure,
		Format:        shapeFormat(args.Format),
		Timezone:      s.timezone(ctx),
		Warnings:      result.Warnings,
		FilteredCount: result.FilteredCount,
		TotalCount:    result.TotalCount,
	})
	if shapeFormat(args.Format) == shape.FormatJSON {
		return json.RawMessage(text), nil
	}
	return text, nil
}

func (s *Server) handleGetRecord(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[GetRecordArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" || args.RecordID == "" {
		return nil, fmt.Errorf("table_id and record_id are required")
	}

	record, structure, err := s.executor.Get(ctx, args.TableID, args.RecordID)
	if err != nil {
		return nil, err
	}
	return s.shapeOne(ctx, record, structure, args.Fields, args.Format), nil
}

func (s *Server) shapeOne(ctx context.Context, record types.Record, structure []types.Field, fields []string, format string) any {
	text := shape.Records([]types.Record{record}, shape.Request{
		Fields:        fields,
		Structure:     structure,
		Format:        shapeFormat(format),
		Timezone:      s.timezone(ctx),
		FilteredCount: 1,
		TotalCount:    1,
	})
	if shapeFormat(format) == shape.FormatJSON {
		return json.RawMessage(text)
	}
	return text
}

func (s *Server) handleCreateRecord(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[WriteRecordArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" {
		return nil, fmt.Errorf("table_id is required")
	}

	created, err := s.upstream.CreateRecord(ctx, args.TableID, args.Data)
	if err != nil {
		return nil, err
	}
	structure := s.structureFor(ctx, args.TableID)
	created = coerce.Record(structure, created)
	s.executor.WriteThrough(ctx, args.TableID, created)
	return s.shapeOne(ctx, created, structure, nil, shape.FormatJSON), nil
}

func (s *Server) handleUpdateRecord(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[WriteRecordArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" || args.RecordID == "" {
		return nil, fmt.Errorf("table_id and record_id are required")
	}

	updated, err := s.upstream.UpdateRecord(ctx, args.TableID, args.RecordID, args.Data)
	if err != nil {
		return nil, err
	}
	structure := s.structureFor(ctx, args.TableID)
	updated = coerce.Record(structure, updated)
	s.executor.WriteThrough(ctx, args.TableID, updated)
	return s.shapeOne(ctx, updated, structure, nil, shape.FormatJSON), nil
}

func (s *Server) handleDeleteRecord(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[WriteRecordArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" || args.RecordID == "" {
		return nil, fmt.Errorf("table_id and record_id are required")
	}

	if err := s.upstream.DeleteRecord(ctx, args.TableID, args.RecordID); err != nil {
		return nil, err
	}
	s.executor.DropRecord(ctx, args.TableID, args.RecordID)
	return map[string]any{"deleted": true, "record_id": args.RecordID}, nil
}

// structureFor is best-effort: mutations shape their response with whatever
// schema the cache has, possibly none.
func (s *Server) structureFor(ctx context.Context, tableID string) []types.Field {
	structure, err := s.store.GetTableSchema(ctx, tableID)
	if err != nil {
		return nil
	}
	return structure
}

// --- directory ---

func (s *Server) handleListMembers(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[ListMembersArgs](raw)
	if err != nil {
		return nil, err
	}
	members, source, err := s.executor.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	limits := fuzzyLimits()
	matched := make([]types.Member, 0, len(members))
	for _, m := range members {
		if args.Email != "" && !equalFold(m.Email, args.Email) {
			continue
		}
		if !match.Matches(m.DisplayName(), args.Name, limits) {
			continue
		}
		matched = append(matched, m)
	}
	return listEnvelope{Items: matched, TotalCount: len(members), Count: len(matched), Source: source}, nil
}

func (s *Server) handleGetMember(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[GetByIDArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	member, _, err := s.executor.GetMember(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *Server) handleListTeams(ctx context.Context, raw json.RawMessage) (any, error) {
	teams, source, err := s.executor.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return listEnvelope{Items: teams, TotalCount: len(teams), Count: len(teams), Source: source}, nil
}

// --- views and tombstones ---

func (s *Server) handleListViews(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[ListViewsArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" {
		return nil, fmt.Errorf("table_id is required")
	}
	views, source, err := s.executor.ListViews(ctx, args.TableID)
	if err != nil {
		return nil, err
	}
	return listEnvelope{Items: views, TotalCount: len(views), Count: len(views), Source: source}, nil
}

func (s *Server) handleListDeletedRecords(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[ListDeletedRecordsArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.SolutionID == "" {
		return nil, fmt.Errorf("solution_id is required")
	}
	deleted, source, err := s.executor.ListDeletedRecords(ctx, args.SolutionID)
	if err != nil {
		return nil, err
	}
	return listEnvelope{Items: deleted, TotalCount: len(deleted), Count: len(deleted), Source: source}, nil
}

// --- comments (pass-through, uncached) ---

func (s *Server) handleListComments(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[CommentArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" || args.RecordID == "" {
		return nil, fmt.Errorf("table_id and record_id are required")
	}
	comments, err := s.upstream.ListComments(ctx, args.TableID, args.RecordID)
	if err != nil {
		return nil, err
	}
	return listEnvelope{Items: comments, TotalCount: len(comments), Count: len(comments)}, nil
}

func (s *Server) handleAddComment(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[CommentArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" || args.RecordID == "" || args.Text == "" {
		return nil, fmt.Errorf("table_id, record_id, and text are required")
	}
	return s.upstream.AddComment(ctx, args.TableID, args.RecordID, args.Text)
}

// --- control operations ---

func (s *Server) handleCacheStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	status, err := s.store.Status(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cache":          status,
		"default_ttl":    int(config.DefaultTTL() / time.Second),
		"uptime_seconds": int(s.metrics.Uptime() / time.Second),
		"operations":     s.metrics.Snapshot(),
	}, nil
}

func (s *Server) handleCacheInvalidate(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[InvalidateArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.Kind == "" {
		return nil, fmt.Errorf("kind is required")
	}
	err = s.store.Invalidate(ctx, storage.Scope{
		Kind:             types.EntityKind(args.Kind),
		ID:               args.ID,
		SolutionID:       args.SolutionID,
		TableID:          args.TableID,
		StructureChanged: args.StructureChanged,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"invalidated": args.Kind}, nil
}

func (s *Server) handleSetTableTTL(_ context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[SetTableTTLArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.TableID == "" {
		return nil, fmt.Errorf("table_id is required")
	}
	config.SetTableTTL(args.TableID, args.TTLSeconds)
	return map[string]any{
		"table_id":    args.TableID,
		"ttl_seconds": args.TTLSeconds,
	}, nil
}

func (s *Server) handlePing(_ context.Context, _ json.RawMessage) (any, error) {
	return "pong", nil
}

func (s *Server) handleVersion(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]string{"version": s.version}, nil
}

// --- helpers ---

func shapeFormat(format string) string {
	if format == shape.FormatJSON {
		return shape.FormatJSON
	}
	return shape.FormatTabular
}

// parseSort accepts the canonical [{field, direction}] list or the compact
// "field-desc,other" string.
func parseSort(raw json.RawMessage) ([]types.SortOption, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var opts []types.SortOption
	if err := json.Unmarshal(raw, &opts); err == nil {
		for _, opt := range opts {
			if !opt.Direction.IsValid() {
				return nil, fmt.Errorf("invalid sort direction %q", opt.Direction)
			}
		}
		return opts, nil
	}
	var compact string
	if err := json.Unmarshal(raw, &compact); err == nil {
		return types.ParseSortOrder(compact), nil
	}
	return nil, fmt.Errorf("malformed sort: want a list of {field, direction} or a string")
}

func equalFold(a, b string) bool {
	return match.Fold(a) == match.Fold(b)
}
