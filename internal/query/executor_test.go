package query

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase-mcp/internal/filter"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/storage/sqlite"
	"github.com/gridbase/gridbase-mcp/internal/types"
	"github.com/gridbase/gridbase-mcp/internal/upstream"
)

// stubUpstream is an in-memory upstream for executor tests. Fetch counters
// track how often the executor actually went remote.
type stubUpstream struct {
	mu    sync.Mutex
	delay time.Duration

	structures map[string][]types.Field
	records    map[string][]types.Record
	solutions  []types.Solution
	tables     []types.Table
	members    []types.Member
	teams      []types.Team
	views      []types.View
	deleted    []types.DeletedRecord

	tableFetches    int
	recordFetches   int
	solutionFetches int
	err             error
}

func newStubUpstream() *stubUpstream {
	return &stubUpstream{
		structures: map[string][]types.Field{},
		records:    map[string][]types.Record{},
	}
}

func (s *stubUpstream) FetchTableRecords(_ context.Context, tableID string, _ bool) (upstream.TableRecords, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return upstream.TableRecords{}, s.err
	}
	s.tableFetches++
	items := append([]types.Record(nil), s.records[tableID]...)
	return upstream.TableRecords{
		Items:      items,
		TotalCount: len(items),
		Structure:  s.structures[tableID],
	}, nil
}

func (s *stubUpstream) FetchRecord(_ context.Context, tableID, recordID string) (types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return types.Record{}, s.err
	}
	s.recordFetches++
	for _, rec := range s.records[tableID] {
		if rec.ID == recordID {
			return rec, nil
		}
	}
	return types.Record{}, fmt.Errorf("record %s not found", recordID)
}

func (s *stubUpstream) FetchSolutions(context.Context) ([]types.Solution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solutionFetches++
	return s.solutions, s.err
}

func (s *stubUpstream) FetchSolution(_ context.Context, id string) (types.Solution, error) {
	for _, sol := range s.solutions {
		if sol.ID == id {
			return sol, nil
		}
	}
	return types.Solution{}, fmt.Errorf("solution %s not found", id)
}

func (s *stubUpstream) FetchTables(context.Context, string) ([]types.Table, error) {
	return s.tables, s.err
}

func (s *stubUpstream) FetchTable(_ context.Context, id string) (types.Table, error) {
	for _, tbl := range s.tables {
		if tbl.ID == id {
			tbl.Structure = s.structures[id]
			return tbl, nil
		}
	}
	return types.Table{}, fmt.Errorf("table %s not found", id)
}

func (s *stubUpstream) FetchMembers(context.Context) ([]types.Member, error) { return s.members, s.err }

func (s *stubUpstream) FetchMember(_ context.Context, id string) (types.Member, error) {
	for _, m := range s.members {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Member{}, fmt.Errorf("member %s not found", id)
}

func (s *stubUpstream) FetchSelf(context.Context) (types.Member, error) {
	if len(s.members) > 0 {
		return s.members[0], nil
	}
	return types.Member{}, fmt.Errorf("no authenticated member")
}

func (s *stubUpstream) FetchTeams(context.Context) ([]types.Team, error) { return s.teams, s.err }

func (s *stubUpstream) FetchViews(_ context.Context, tableID string) ([]types.View, error) {
	var out []types.View
	for _, v := range s.views {
		if v.TableID == tableID {
			out = append(out, v)
		}
	}
	return out, s.err
}

func (s *stubUpstream) FetchDeletedRecords(_ context.Context, solutionID string) ([]types.DeletedRecord, error) {
	var out []types.DeletedRecord
	for _, dr := range s.deleted {
		if solutionID == "" || dr.SolutionID == solutionID {
			out = append(out, dr)
		}
	}
	return out, s.err
}

func (s *stubUpstream) CreateRecord(_ context.Context, tableID string, data map[string]any) (types.Record, error) {
	rec := types.Record{ID: fmt.Sprintf("new%d", len(s.records[tableID])+1), TableID: tableID, Data: data}
	s.records[tableID] = append(s.records[tableID], rec)
	return rec, nil
}

func (s *stubUpstream) UpdateRecord(_ context.Context, tableID, recordID string, data map[string]any) (types.Record, error) {
	return types.Record{ID: recordID, TableID: tableID, Data: data}, nil
}

func (s *stubUpstream) DeleteRecord(context.Context, string, string) error { return nil }

func (s *stubUpstream) ListComments(context.Context, string, string) ([]types.Comment, error) {
	return nil, nil
}

func (s *stubUpstream) AddComment(_ context.Context, _, recordID, text string) (types.Comment, error) {
	return types.Comment{ID: "c1", RecordID: recordID, Text: text}, nil
}

func (s *stubUpstream) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tableFetches
}

var _ upstream.Client = (*stubUpstream)(nil)

func projectStructure() []types.Field {
	return []types.Field{
		{Slug: "title", Label: "Title", FieldType: "text", Params: &types.FieldParams{Primary: true}},
		{Slug: "status", Label: "Status", FieldType: "status"},
		{Slug: "tags", Label: "Tags", FieldType: "tags"},
		{Slug: "due", Label: "Due", FieldType: "due_date"},
		{Slug: "points", Label: "Points", FieldType: "number"},
	}
}

func projectRecords() []types.Record {
	return []types.Record{
		{ID: "r1", Data: map[string]any{
			"title":  "Ship beta",
			"status": map[string]any{"value": "active"},
			"tags":   []any{"urgent", "backend"},
			"due":    map[string]any{"date": "2025-05-01T00:00:00Z"},
			"points": float64(5),
		}},
		{ID: "r2", Data: map[string]any{
			"title":  "Write docs",
			"status": map[string]any{"value": "active"},
			"tags":   []any{"docs"},
			"due":    map[string]any{"date": "2025-07-15T00:00:00Z"},
			"points": float64(2),
		}},
		{ID: "r3", Data: map[string]any{
			"title":  "Retro notes",
			"status": map[string]any{"value": "done"},
			"tags":   []any{"urgent"},
			"due":    map[string]any{"date": "2025-04-01T00:00:00Z"},
			"points": float64(1),
		}},
	}
}

func newTestExecutor(t *testing.T) (*Executor, *stubUpstream, storage.Store) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	up := newStubUpstream()
	up.structures["tbl1"] = projectStructure()
	up.records["tbl1"] = projectRecords()
	return New(store, up), up, store
}

func mustFilter(t *testing.T, doc string) filter.Node {
	t.Helper()
	node, err := filter.Parse(json.RawMessage(doc))
	require.NoError(t, err)
	return node
}

func TestListPopulatesOnMissThenServesFromCache(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	ctx := context.Background()

	res, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, res.Source)
	assert.Equal(t, 3, res.TotalCount)
	assert.Len(t, res.Rows, 3)
	assert.Equal(t, 1, up.fetchCount())

	res, err = e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, 1, up.fetchCount())
}

func TestListCompoundFilter(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	node := mustFilter(t, `{
		"operator": "and",
		"fields": [
			{"field": "status", "comparison": "is", "value": "active"},
			{"field": "tags", "comparison": "has_any_of", "value": ["urgent"]}
		]
	}`)

	res, err := e.List(ctx, ListRequest{TableID: "tbl1", Filter: node})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 1, res.FilteredCount)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "r1", res.Rows[0].ID)
	assert.Empty(t, res.Warnings)
}

func TestListDateBeforeFilter(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	node := mustFilter(t, `{"field": "due", "comparison": "is_before", "value": "2025-06-01"}`)
	res, err := e.List(ctx, ListRequest{TableID: "tbl1", Filter: node})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilteredCount)

	ids := []string{res.Rows[0].ID, res.Rows[1].ID}
	assert.ElementsMatch(t, []string{"r1", "r3"}, ids)
}

func TestListDateFilterExcludesMissingDates(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	ctx := context.Background()

	up.structures["tbl2"] = projectStructure()
	up.records["tbl2"] = []types.Record{
		{ID: "d1", Data: map[string]any{
			"title": "Dated",
			"due":   map[string]any{"date": "2025-03-01T00:00:00Z"},
		}},
		{ID: "d2", Data: map[string]any{
			"title": "Undated",
		}},
	}

	node := mustFilter(t, `{"field": "due", "comparison": "is_before", "value": "2025-06-01"}`)
	res, err := e.List(ctx, ListRequest{TableID: "tbl2", Filter: node})
	require.NoError(t, err)
	require.Equal(t, 1, res.FilteredCount)
	assert.Equal(t, "d1", res.Rows[0].ID)
	assert.Equal(t, 2, res.TotalCount)
}

func TestListSortAndPaging(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	res, err := e.List(ctx, ListRequest{
		TableID: "tbl1",
		Sort:    []types.SortOption{{Field: "points", Direction: types.SortDesc}},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "r1", res.Rows[0].ID)
	assert.Equal(t, "r2", res.Rows[1].ID)

	res, err = e.List(ctx, ListRequest{
		TableID: "tbl1",
		Sort:    []types.SortOption{{Field: "points", Direction: types.SortDesc}},
		Limit:   2,
		Offset:  2,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "r3", res.Rows[0].ID)
}

func TestListBypassCacheRefetches(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)

	up.mu.Lock()
	up.records["tbl1"] = append(up.records["tbl1"], types.Record{
		ID: "r4", Data: map[string]any{"title": "Fresh", "status": map[string]any{"value": "active"}},
	})
	up.mu.Unlock()

	res, err := e.List(ctx, ListRequest{TableID: "tbl1", BypassCache: true})
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, res.Source)
	assert.Equal(t, 4, res.TotalCount)
	assert.Equal(t, 2, up.fetchCount())

	// The bypass refreshed the cache for everyone else.
	res, err = e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, 4, res.TotalCount)
}

func TestListDegradedWhenCacheUnavailable(t *testing.T) {
	up := newStubUpstream()
	up.structures["tbl1"] = projectStructure()
	up.records["tbl1"] = projectRecords()
	e := New(&storage.Unavailable{Reason: fmt.Errorf("disk gone")}, up)

	node := mustFilter(t, `{"field": "status", "comparison": "is", "value": "active"}`)
	res, err := e.List(context.Background(), ListRequest{TableID: "tbl1", Filter: node})
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, res.Source)
	assert.Len(t, res.Rows, 3) // filter skipped, not applied
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "cache unavailable")
	assert.Contains(t, res.Warnings[1], "filter was not applied")
}

func TestListDegradedSortsInMemory(t *testing.T) {
	up := newStubUpstream()
	up.structures["tbl1"] = projectStructure()
	up.records["tbl1"] = projectRecords()
	e := New(&storage.Unavailable{Reason: fmt.Errorf("disk gone")}, up)

	res, err := e.List(context.Background(), ListRequest{
		TableID: "tbl1",
		Sort:    []types.SortOption{{Field: "points", Direction: types.SortDesc}},
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "r1", res.Rows[0].ID)
}

func TestListHydratedAlwaysGoesUpstream(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)
	require.Equal(t, 1, up.fetchCount())

	node := mustFilter(t, `{"field": "status", "comparison": "is", "value": "active"}`)
	res, err := e.List(ctx, ListRequest{TableID: "tbl1", Filter: node, Hydrated: true})
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, res.Source)
	assert.Equal(t, 2, up.fetchCount())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "hydrated")
}

func TestListRepopulatesAfterExpiry(t *testing.T) {
	e, up, store := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)

	// Force the table into the expired state behind the executor's back.
	require.NoError(t, store.Invalidate(ctx, storage.Scope{Kind: types.KindRecords, TableID: "tbl1"}))

	res, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, res.Source)
	assert.Equal(t, 2, up.fetchCount())
}

func TestGetServesCachedRecord(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	ctx := context.Background()

	rec, structure, err := e.Get(ctx, "tbl1", "r2")
	require.NoError(t, err)
	assert.Equal(t, "r2", rec.ID)
	assert.Len(t, structure, 5)
	assert.Equal(t, 1, up.fetchCount())

	_, _, err = e.Get(ctx, "tbl1", "r2")
	require.NoError(t, err)
	assert.Equal(t, 1, up.fetchCount())
	assert.Equal(t, 0, up.recordFetches)
}

func TestGetFallsThroughToUpstream(t *testing.T) {
	e, up, store := newTestExecutor(t)
	ctx := context.Background()

	_, _, err := e.Get(ctx, "tbl1", "r1")
	require.NoError(t, err)

	// A record created after the populate is not in the cached set.
	up.mu.Lock()
	up.records["tbl1"] = append(up.records["tbl1"], types.Record{
		ID: "r9", Data: map[string]any{"title": "Late arrival"},
	})
	up.mu.Unlock()

	rec, _, err := e.Get(ctx, "tbl1", "r9")
	require.NoError(t, err)
	assert.Equal(t, "r9", rec.ID)
	assert.Equal(t, 1, up.recordFetches)
	assert.Equal(t, 1, up.fetchCount(), "a miss against a valid set must not repopulate")

	// The direct fetch write-through made it cacheable.
	cached, err := store.GetRecord(ctx, "tbl1", "r9")
	require.NoError(t, err)
	assert.Equal(t, "Late arrival", cached.Data["title"])
}

func TestWriteThroughVisibleInListing(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)

	e.WriteThrough(ctx, "tbl1", types.Record{
		ID: "r1",
		Data: map[string]any{
			"title":  "Ship beta",
			"status": map[string]any{"value": "done"},
		},
	})

	node := mustFilter(t, `{"field": "status", "comparison": "is", "value": "done"}`)
	res, err := e.List(ctx, ListRequest{TableID: "tbl1", Filter: node})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilteredCount)
	assert.Equal(t, SourceCache, res.Source)
}

func TestDropRecordRemovesFromListing(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)

	e.DropRecord(ctx, "tbl1", "r1")

	res, err := e.List(ctx, ListRequest{TableID: "tbl1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
	assert.Equal(t, SourceCache, res.Source)
}

func TestConcurrentListsCollapseToOnePopulate(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	up.delay = 100 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = e.List(ctx, ListRequest{TableID: "tbl1"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, up.fetchCount(), 2)
}

func TestListSolutionsCached(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	up.solutions = []types.Solution{{ID: "sol1", Name: "CRM"}, {ID: "sol2", Name: "Projects"}}
	ctx := context.Background()

	solutions, source, err := e.ListSolutions(ctx)
	require.NoError(t, err)
	assert.Len(t, solutions, 2)
	assert.Equal(t, SourceUpstream, source)
	assert.Equal(t, 1, up.solutionFetches)

	solutions, source, err = e.ListSolutions(ctx)
	require.NoError(t, err)
	assert.Len(t, solutions, 2)
	assert.Equal(t, SourceCache, source)
	assert.Equal(t, 1, up.solutionFetches)
}

func TestGetTableRefetchesShallowRow(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	up.tables = []types.Table{{ID: "tbl1", SolutionID: "sol1", Name: "Tasks"}}
	ctx := context.Background()

	// Cache the shallow listing first.
	_, _, err := e.ListTables(ctx, "")
	require.NoError(t, err)

	table, _, err := e.GetTable(ctx, "tbl1")
	require.NoError(t, err)
	assert.Len(t, table.Structure, 5)

	// The detail refetch upgraded the cached row.
	table, source, err := e.GetTable(ctx, "tbl1")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, source)
	assert.Len(t, table.Structure, 5)
}

func TestListViewsPerTable(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	up.views = []types.View{
		{ID: "v1", TableID: "tbl1", Name: "Open tasks"},
		{ID: "v2", TableID: "tbl2", Name: "Archive"},
	}
	ctx := context.Background()

	views, source, err := e.ListViews(ctx, "tbl1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "v1", views[0].ID)
	assert.Equal(t, SourceUpstream, source)

	views, source, err = e.ListViews(ctx, "tbl1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, SourceCache, source)

	// A different table's views are not hidden by tbl1's cached rows.
	views, source, err = e.ListViews(ctx, "tbl2")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "v2", views[0].ID)
}

func TestListDeletedRecordsScopedToSolution(t *testing.T) {
	e, up, _ := newTestExecutor(t)
	now := time.Now()
	up.deleted = []types.DeletedRecord{
		{Record: types.Record{ID: "d1"}, TableID: "tbl1", SolutionID: "sol1", DeletedAt: &now},
		{Record: types.Record{ID: "d2"}, TableID: "tbl2", SolutionID: "sol2", DeletedAt: &now},
	}
	ctx := context.Background()

	deleted, _, err := e.ListDeletedRecords(ctx, "sol1")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "d1", deleted[0].Record.ID)
}
