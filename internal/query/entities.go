package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/debug"
	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/telemetry"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Per-kind TTLs: directory data moves slowly, tombstones fast.
func entityTTL(kind types.EntityKind) time.Duration {
	switch kind {
	case types.KindMembers, types.KindTeams:
		return fieldtypes.TTLLong.Duration()
	case types.KindDeletedRecords:
		return fieldtypes.TTLShort.Duration()
	default:
		return fieldtypes.TTLMedium.Duration()
	}
}

// listCached serves a full entity class from the cache, refetching the list
// when no valid rows remain. A cache failure degrades to the direct fetch.
func listCached[T any](ctx context.Context, e *Executor, kind types.EntityKind,
	fetch func(context.Context) ([]T, error), idOf func(T) string) ([]T, string, error) {

	envs, err := e.store.ListEntities(ctx, kind)
	if err == nil && len(envs) > 0 {
		items := make([]T, 0, len(envs))
		decodeOK := true
		for _, env := range envs {
			var item T
			if err := json.Unmarshal(env.Payload, &item); err != nil {
				decodeOK = false
				break
			}
			items = append(items, item)
		}
		if decodeOK {
			return items, SourceCache, nil
		}
	}
	if err != nil && !storage.IsUnavailable(err) {
		return nil, "", err
	}
	cacheDown := err != nil

	telemetry.RecordUpstreamFetch(ctx, string(kind))
	items, err := fetch(ctx)
	if err != nil {
		return nil, "", err
	}

	if !cacheDown {
		ids := make([]string, len(items))
		payloads := make([][]byte, len(items))
		encodeOK := true
		for i, item := range items {
			blob, err := json.Marshal(item)
			if err != nil {
				encodeOK = false
				break
			}
			ids[i] = idOf(item)
			payloads[i] = blob
		}
		if encodeOK {
			if err := e.store.PutEntityList(ctx, kind, ids, payloads, entityTTL(kind)); err != nil {
				debug.Logf("failed to cache %s list: %v\n", kind, err)
			}
		}
	}
	return items, SourceUpstream, nil
}

// getCached serves one entity from the cache, fetching and write-caching it
// on miss or expiry.
func getCached[T any](ctx context.Context, e *Executor, kind types.EntityKind, id string,
	fetch func(context.Context, string) (T, error)) (T, string, error) {

	var zero T
	env, err := e.store.GetEntity(ctx, kind, id)
	if err == nil {
		var item T
		if err := json.Unmarshal(env.Payload, &item); err == nil {
			return item, SourceCache, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrExpired) && !storage.IsUnavailable(err) {
		return zero, "", err
	}

	telemetry.RecordUpstreamFetch(ctx, string(kind))
	item, err := fetch(ctx, id)
	if err != nil {
		return zero, "", err
	}
	if blob, err := json.Marshal(item); err == nil {
		if err := e.store.PutEntity(ctx, kind, id, blob, entityTTL(kind)); err != nil {
			debug.Logf("failed to cache %s %s: %v\n", kind, id, err)
		}
	}
	return item, SourceUpstream, nil
}

// ListSolutions returns every solution, cached.
func (e *Executor) ListSolutions(ctx context.Context) ([]types.Solution, string, error) {
	return listCached(ctx, e, types.KindSolutions, e.upstream.FetchSolutions,
		func(s types.Solution) string { return s.ID })
}

// GetSolution returns one solution, cached.
func (e *Executor) GetSolution(ctx context.Context, id string) (types.Solution, string, error) {
	return getCached(ctx, e, types.KindSolutions, id, e.upstream.FetchSolution)
}

// ListTables returns tables, optionally narrowed to a solution. The class is
// cached whole; the narrowing applies locally.
func (e *Executor) ListTables(ctx context.Context, solutionID string) ([]types.Table, string, error) {
	tables, source, err := listCached(ctx, e, types.KindTables,
		func(ctx context.Context) ([]types.Table, error) { return e.upstream.FetchTables(ctx, "") },
		func(t types.Table) string { return t.ID })
	if err != nil || solutionID == "" {
		return tables, source, err
	}
	filtered := tables[:0:0]
	for _, t := range tables {
		if t.SolutionID == solutionID {
			filtered = append(filtered, t)
		}
	}
	return filtered, source, nil
}

// GetTable returns one table with its structure, cached. A cached listing row
// without structure falls through to the upstream detail fetch.
func (e *Executor) GetTable(ctx context.Context, id string) (types.Table, string, error) {
	table, source, err := getCached(ctx, e, types.KindTables, id, e.upstream.FetchTable)
	if err != nil {
		return table, source, err
	}
	if len(table.Structure) == 0 {
		telemetry.RecordUpstreamFetch(ctx, "table")
		detailed, err := e.upstream.FetchTable(ctx, id)
		if err != nil {
			return table, source, err
		}
		if blob, err := json.Marshal(detailed); err == nil {
			if err := e.store.PutEntity(ctx, types.KindTables, id, blob, entityTTL(types.KindTables)); err != nil {
				debug.Logf("failed to cache table %s: %v\n", id, err)
			}
		}
		return detailed, SourceUpstream, nil
	}
	return table, source, nil
}

// ListMembers returns the member directory, cached.
func (e *Executor) ListMembers(ctx context.Context) ([]types.Member, string, error) {
	return listCached(ctx, e, types.KindMembers, e.upstream.FetchMembers,
		func(m types.Member) string { return m.ID })
}

// GetMember returns one member, cached.
func (e *Executor) GetMember(ctx context.Context, id string) (types.Member, string, error) {
	return getCached(ctx, e, types.KindMembers, id, e.upstream.FetchMember)
}

// ListTeams returns all teams, cached.
func (e *Executor) ListTeams(ctx context.Context) ([]types.Team, string, error) {
	return listCached(ctx, e, types.KindTeams, e.upstream.FetchTeams,
		func(t types.Team) string { return t.ID })
}

// ListViews returns a table's views. Views cache per parent table: rows for
// other tables are filtered out locally, and an empty remainder refetches.
func (e *Executor) ListViews(ctx context.Context, tableID string) ([]types.View, string, error) {
	envs, err := e.store.ListEntities(ctx, types.KindViews)
	if err == nil {
		var views []types.View
		for _, env := range envs {
			var view types.View
			if err := json.Unmarshal(env.Payload, &view); err != nil {
				views = nil
				break
			}
			if view.TableID == tableID {
				views = append(views, view)
			}
		}
		if len(views) > 0 {
			return views, SourceCache, nil
		}
	} else if !storage.IsUnavailable(err) {
		return nil, "", err
	}
	cacheDown := err != nil

	telemetry.RecordUpstreamFetch(ctx, string(types.KindViews))
	views, ferr := e.upstream.FetchViews(ctx, tableID)
	if ferr != nil {
		return nil, "", ferr
	}
	if !cacheDown {
		for _, view := range views {
			if blob, err := json.Marshal(view); err == nil {
				if err := e.store.PutEntity(ctx, types.KindViews, view.ID, blob, entityTTL(types.KindViews)); err != nil {
					debug.Logf("failed to cache view %s: %v\n", view.ID, err)
					break
				}
			}
		}
	}
	return views, SourceUpstream, nil
}

// ListDeletedRecords enumerates a solution's tombstones. Same per-parent
// caching shape as views, with a short TTL.
func (e *Executor) ListDeletedRecords(ctx context.Context, solutionID string) ([]types.DeletedRecord, string, error) {
	envs, err := e.store.ListEntities(ctx, types.KindDeletedRecords)
	if err == nil {
		var deleted []types.DeletedRecord
		for _, env := range envs {
			var dr types.DeletedRecord
			if err := json.Unmarshal(env.Payload, &dr); err != nil {
				deleted = nil
				break
			}
			if dr.Record.ID != "" && (solutionID == "" || dr.SolutionID == solutionID) {
				deleted = append(deleted, dr)
			}
		}
		if len(deleted) > 0 {
			return deleted, SourceCache, nil
		}
	} else if !storage.IsUnavailable(err) {
		return nil, "", err
	}
	cacheDown := err != nil

	telemetry.RecordUpstreamFetch(ctx, string(types.KindDeletedRecords))
	deleted, ferr := e.upstream.FetchDeletedRecords(ctx, solutionID)
	if ferr != nil {
		return nil, "", ferr
	}
	if !cacheDown {
		for _, dr := range deleted {
			if blob, err := json.Marshal(dr); err == nil {
				if err := e.store.PutEntity(ctx, types.KindDeletedRecords, dr.Record.ID, blob, entityTTL(types.KindDeletedRecords)); err != nil {
					debug.Logf("failed to cache deleted record %s: %v\n", dr.Record.ID, err)
					break
				}
			}
		}
	}
	return deleted, SourceUpstream, nil
}
