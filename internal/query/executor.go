// Package query is the cache-aware query executor: it decides cache
// validity, populates from upstream on miss, compiles and runs filters on
// hit, and reflects mutations back into the cache.
package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gridbase/gridbase-mcp/internal/coerce"
	"github.com/gridbase/gridbase-mcp/internal/config"
	"github.com/gridbase/gridbase-mcp/internal/debug"
	"github.com/gridbase/gridbase-mcp/internal/filter"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/telemetry"
	"github.com/gridbase/gridbase-mcp/internal/types"
	"github.com/gridbase/gridbase-mcp/internal/upstream"
)

// Source tags where a response's rows came from.
const (
	SourceCache    = "cache"
	SourceUpstream = "upstream"
)

// ListRequest is one records query.
type ListRequest struct {
	TableID     string
	Filter      filter.Node
	Sort        []types.SortOption
	Limit       int
	Offset      int
	BypassCache bool
	Hydrated    bool
}

// ListResult carries the rows plus everything the response shaper needs.
type ListResult struct {
	Rows          []types.Record
	Structure     []types.Field
	TotalCount    int
	FilteredCount int
	Warnings      []string
	Source        string
}

// Executor coordinates the cache store and the upstream client. Writes to a
// single table's record set serialise on a per-table lock held across the
// populate fetch; reads never take it.
type Executor struct {
	store    storage.Store
	upstream upstream.Client

	group      singleflight.Group
	tableMu    sync.Mutex
	tableLocks map[string]*sync.Mutex
}

// New builds an executor over the given store and upstream client.
func New(store storage.Store, up upstream.Client) *Executor {
	return &Executor{
		store:      store,
		upstream:   up,
		tableLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Executor) tableLock(tableID string) *sync.Mutex {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	mu, ok := e.tableLocks[tableID]
	if !ok {
		mu = &sync.Mutex{}
		e.tableLocks[tableID] = mu
	}
	return mu
}

// List serves a records query: from the cache when its record set is valid,
// otherwise by populating first. CacheUnavailable degrades to serving the
// upstream fetch directly with a warning.
func (e *Executor) List(ctx context.Context, req ListRequest) (ListResult, error) {
	warnings := filter.NewWarnings()

	if req.Hydrated {
		return e.listHydrated(ctx, req, warnings)
	}

	fresh := false
	if !req.BypassCache {
		valid, err := e.store.RecordsValid(ctx, req.TableID)
		if err != nil {
			if storage.IsUnavailable(err) {
				return e.listDegraded(ctx, req, warnings)
			}
			return ListResult{}, err
		}
		fresh = valid
	}

	source := SourceCache
	if !fresh {
		telemetry.RecordCacheMiss(ctx, req.TableID)
		if err := e.populate(ctx, req.TableID); err != nil {
			if storage.IsUnavailable(err) {
				return e.listDegraded(ctx, req, warnings)
			}
			return ListResult{}, err
		}
		source = SourceUpstream
	} else {
		telemetry.RecordCacheHit(ctx, req.TableID)
	}

	result, err := e.queryCache(ctx, req, warnings)
	if err != nil {
		if errors.Is(err, storage.ErrExpired) {
			// The cache lapsed between the validity check and the read;
			// repopulate once and retry.
			if err := e.populate(ctx, req.TableID); err != nil {
				if storage.IsUnavailable(err) {
					return e.listDegraded(ctx, req, warnings)
				}
				return ListResult{}, err
			}
			source = SourceUpstream
			result, err = e.queryCache(ctx, req, warnings)
		}
		if err != nil {
			if storage.IsUnavailable(err) {
				return e.listDegraded(ctx, req, warnings)
			}
			return ListResult{}, err
		}
	}
	result.Source = source
	return result, nil
}

// queryCache compiles the filter against the cached schema and executes it.
func (e *Executor) queryCache(ctx context.Context, req ListRequest, warnings *filter.Warnings) (ListResult, error) {
	structure, err := e.store.GetTableSchema(ctx, req.TableID)
	if err != nil && !errors.Is(err, storage.ErrExpired) {
		return ListResult{}, err
	}
	schema := schemaMap(structure)

	compiler := &filter.Compiler{
		Schema:   schema,
		Now:      time.Now().In(config.Timezone("")),
		Strict:   config.GetBool("filter.strict_validation"),
		Warnings: warnings,
	}
	cond, err := compiler.Compile(req.Filter)
	if err != nil {
		return ListResult{}, err
	}

	sortKeys, err := compileSort(schema, req.Sort)
	if err != nil {
		return ListResult{}, err
	}

	page, err := e.store.GetRecords(ctx, req.TableID, storage.RecordQuery{
		Condition: cond,
		Sort:      sortKeys,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return ListResult{}, err
	}

	return ListResult{
		Rows:          page.Records,
		Structure:     structure,
		TotalCount:    page.TotalCount,
		FilteredCount: page.FilteredCount,
		Warnings:      warnings.Items(),
	}, nil
}

// listDegraded serves the upstream fetch directly when the cache is out of
// commission. Filters cannot run without the store's query engine, so they
// are skipped with a warning; sort and paging apply in memory.
func (e *Executor) listDegraded(ctx context.Context, req ListRequest, warnings *filter.Warnings) (ListResult, error) {
	debug.Errorf("cache unavailable, serving table %s directly from upstream\n", req.TableID)
	warnings.Addf("cache unavailable; results served directly from upstream")
	if req.Filter != nil {
		warnings.Addf("cache unavailable; filter was not applied")
	}

	telemetry.RecordUpstreamFetch(ctx, "table_records")
	fetched, err := e.upstream.FetchTableRecords(ctx, req.TableID, false)
	if err != nil {
		return ListResult{}, err
	}

	rows := coerceAll(fetched.Structure, fetched.Items)
	sortInMemory(schemaMap(fetched.Structure), rows, req.Sort)
	total := fetched.TotalCount
	paged := pageSlice(rows, req.Limit, req.Offset)

	return ListResult{
		Rows:          paged,
		Structure:     fetched.Structure,
		TotalCount:    total,
		FilteredCount: len(rows),
		Warnings:      warnings.Items(),
		Source:        SourceUpstream,
	}, nil
}

// listHydrated serves the request straight from upstream with reference
// values expanded. Hydrated rows never enter the cache; they are a display
// form, not canonical record data. Filters need the cached canonical values,
// so they are skipped with a warning.
func (e *Executor) listHydrated(ctx context.Context, req ListRequest, warnings *filter.Warnings) (ListResult, error) {
	if req.Filter != nil {
		warnings.Addf("filters are not applied to hydrated listings")
	}

	telemetry.RecordUpstreamFetch(ctx, "table_records")
	fetched, err := e.upstream.FetchTableRecords(ctx, req.TableID, true)
	if err != nil {
		return ListResult{}, err
	}

	rows := fetched.Items
	sortInMemory(schemaMap(fetched.Structure), rows, req.Sort)
	paged := pageSlice(rows, req.Limit, req.Offset)

	return ListResult{
		Rows:          paged,
		Structure:     fetched.Structure,
		TotalCount:    fetched.TotalCount,
		FilteredCount: len(rows),
		Warnings:      warnings.Items(),
		Source:        SourceUpstream,
	}, nil
}

// Get fetches one record, from cache when valid, populating otherwise.
func (e *Executor) Get(ctx context.Context, tableID, recordID string) (types.Record, []types.Field, error) {
	rec, err := e.store.GetRecord(ctx, tableID, recordID)
	if err == nil {
		structure, serr := e.store.GetTableSchema(ctx, tableID)
		if serr != nil && !errors.Is(serr, storage.ErrExpired) {
			structure = nil
		}
		return rec, structure, nil
	}

	switch {
	case errors.Is(err, storage.ErrExpired), errors.Is(err, storage.ErrNotFound):
		// A miss against a still-valid set is a genuinely absent row and goes
		// straight to the single-record fetch; only a stale or unpopulated
		// set warrants a full repopulate.
		valid := false
		if errors.Is(err, storage.ErrNotFound) {
			if v, verr := e.store.RecordsValid(ctx, tableID); verr == nil {
				valid = v
			}
		}
		if !valid {
			if perr := e.populate(ctx, tableID); perr != nil && !storage.IsUnavailable(perr) {
				return types.Record{}, nil, perr
			}
		}
	case storage.IsUnavailable(err):
		// fall through to upstream below
	default:
		return types.Record{}, nil, err
	}

	rec, err = e.store.GetRecord(ctx, tableID, recordID)
	if err == nil {
		structure, _ := e.store.GetTableSchema(ctx, tableID)
		return rec, structure, nil
	}
	if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrExpired) && !storage.IsUnavailable(err) {
		return types.Record{}, nil, err
	}

	// Not in the populated set (or cache down): ask upstream directly.
	telemetry.RecordUpstreamFetch(ctx, "record")
	fetched, err := e.upstream.FetchRecord(ctx, tableID, recordID)
	if err != nil {
		return types.Record{}, nil, err
	}
	structure, _ := e.store.GetTableSchema(ctx, tableID)
	fetched = coerce.Record(structure, fetched)
	e.WriteThrough(ctx, tableID, fetched)
	return fetched, structure, nil
}

// populate fetches the full table from upstream and stores it. Concurrent
// populates of the same table collapse to one fetch; the per-table lock
// serialises the store write against write-throughs, so a write-through
// arriving mid-populate re-applies after a structure-changed clear.
func (e *Executor) populate(ctx context.Context, tableID string) error {
	_, err, _ := e.group.Do(tableID, func() (any, error) {
		mu := e.tableLock(tableID)
		mu.Lock()
		defer mu.Unlock()

		telemetry.RecordUpstreamFetch(ctx, "table_records")
		telemetry.RecordPopulate(ctx, tableID)
		fetched, err := e.upstream.FetchTableRecords(ctx, tableID, false)
		if err != nil {
			return nil, err
		}

		records := coerceAll(fetched.Structure, fetched.Items)
		ttl := config.TableTTL(tableID)
		return nil, e.store.PutRecords(ctx, tableID, fetched.Structure, records, ttl)
	})
	return err
}

// WriteThrough reflects a mutation response into the cache so subsequent
// reads see it without a refetch. Failures are logged, never fatal: the
// cache self-heals on the next populate.
func (e *Executor) WriteThrough(ctx context.Context, tableID string, record types.Record) {
	mu := e.tableLock(tableID)
	mu.Lock()
	defer mu.Unlock()
	if err := e.store.PutRecord(ctx, tableID, record); err != nil {
		debug.Logf("write-through failed for %s/%s: %v\n", tableID, record.ID, err)
	}
}

// DropRecord removes a deleted record's cached row. Failures are logged,
// never fatal.
func (e *Executor) DropRecord(ctx context.Context, tableID, recordID string) {
	mu := e.tableLock(tableID)
	mu.Lock()
	defer mu.Unlock()
	if err := e.store.DeleteRecord(ctx, tableID, recordID); err != nil {
		debug.Logf("cache delete failed for %s/%s: %v\n", tableID, recordID, err)
	}
}

func schemaMap(structure []types.Field) map[string]string {
	m := make(map[string]string, len(structure))
	for _, f := range structure {
		m[f.Slug] = f.FieldType
	}
	return m
}

func coerceAll(structure []types.Field, records []types.Record) []types.Record {
	out := make([]types.Record, len(records))
	for i, rec := range records {
		out[i] = coerce.Record(structure, rec)
	}
	return out
}

func compileSort(schema map[string]string, sort []types.SortOption) ([]storage.SortKey, error) {
	keys := make([]storage.SortKey, 0, len(sort))
	for _, opt := range sort {
		expr, err := filter.SortExpr(schema, opt.Field)
		if err != nil {
			return nil, err
		}
		keys = append(keys, storage.SortKey{
			Expr:       expr,
			Descending: opt.Direction == types.SortDesc,
		})
	}
	return keys, nil
}

func pageSlice(rows []types.Record, limit, offset int) []types.Record {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
