package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase-mcp/internal/query"
	"github.com/gridbase/gridbase-mcp/internal/storage/sqlite"
	"github.com/gridbase/gridbase-mcp/internal/types"
	"github.com/gridbase/gridbase-mcp/internal/upstream"
)

// fakeUpstream is a canned-data upstream for protocol tests.
type fakeUpstream struct {
	structures map[string][]types.Field
	records    map[string][]types.Record
	solutions  []types.Solution
	members    []types.Member
	self       types.Member
	comments   []types.Comment

	deletedIDs []string
}

func (f *fakeUpstream) FetchTableRecords(_ context.Context, tableID string, _ bool) (upstream.TableRecords, error) {
	items := f.records[tableID]
	return upstream.TableRecords{
		Items:      items,
		TotalCount: len(items),
		Structure:  f.structures[tableID],
	}, nil
}

func (f *fakeUpstream) FetchRecord(_ context.Context, tableID, recordID string) (types.Record, error) {
	for _, rec := range f.records[tableID] {
		if rec.ID == recordID {
			return rec, nil
		}
	}
	return types.Record{}, fmt.Errorf("record %s not found", recordID)
}

func (f *fakeUpstream) FetchSolutions(context.Context) ([]types.Solution, error) {
	return f.solutions, nil
}

func (f *fakeUpstream) FetchSolution(_ context.Context, id string) (types.Solution, error) {
	for _, sol := range f.solutions {
		if sol.ID == id {
			return sol, nil
		}
	}
	return types.Solution{}, fmt.Errorf("solution %s not found", id)
}

func (f *fakeUpstream) FetchTables(context.Context, string) ([]types.Table, error) { return nil, nil }
func (f *fakeUpstream) FetchTable(_ context.Context, id string) (types.Table, error) {
	return types.Table{ID: id, Structure: f.structures[id]}, nil
}
func (f *fakeUpstream) FetchMembers(context.Context) ([]types.Member, error) { return f.members, nil }
func (f *fakeUpstream) FetchMember(_ context.Context, id string) (types.Member, error) {
	for _, m := range f.members {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Member{}, fmt.Errorf("member %s not found", id)
}
func (f *fakeUpstream) FetchSelf(context.Context) (types.Member, error) {
	if f.self.ID != "" {
		return f.self, nil
	}
	return types.Member{}, fmt.Errorf("no authenticated member")
}
func (f *fakeUpstream) FetchTeams(context.Context) ([]types.Team, error)         { return nil, nil }
func (f *fakeUpstream) FetchViews(context.Context, string) ([]types.View, error) { return nil, nil }
func (f *fakeUpstream) FetchDeletedRecords(context.Context, string) ([]types.DeletedRecord, error) {
	return nil, nil
}

func (f *fakeUpstream) CreateRecord(_ context.Context, tableID string, data map[string]any) (types.Record, error) {
	rec := types.Record{ID: "created1", TableID: tableID, Data: data}
	f.records[tableID] = append(f.records[tableID], rec)
	return rec, nil
}

func (f *fakeUpstream) UpdateRecord(_ context.Context, tableID, recordID string, data map[string]any) (types.Record, error) {
	return types.Record{ID: recordID, TableID: tableID, Data: data}, nil
}

func (f *fakeUpstream) DeleteRecord(_ context.Context, _, recordID string) error {
	f.deletedIDs = append(f.deletedIDs, recordID)
	return nil
}

func (f *fakeUpstream) ListComments(context.Context, string, string) ([]types.Comment, error) {
	return f.comments, nil
}

func (f *fakeUpstream) AddComment(_ context.Context, _, recordID, text string) (types.Comment, error) {
	return types.Comment{ID: "c1", RecordID: recordID, Text: text}, nil
}

var _ upstream.Client = (*fakeUpstream)(nil)

func newTestServer(t *testing.T) (*Server, *fakeUpstream) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	up := &fakeUpstream{
		structures: map[string][]types.Field{
			"tbl1": {
				{Slug: "title", Label: "Title", FieldType: "text", Params: &types.FieldParams{Primary: true}},
				{Slug: "status", Label: "Status", FieldType: "status"},
				{Slug: "points", Label: "Points", FieldType: "number"},
			},
		},
		records: map[string][]types.Record{
			"tbl1": {
				{ID: "r1", Data: map[string]any{"title": "One", "status": map[string]any{"value": "active"}, "points": float64(3)}},
				{ID: "r2", Data: map[string]any{"title": "Two", "status": map[string]any{"value": "done"}, "points": float64(7)}},
			},
		},
		solutions: []types.Solution{
			{ID: "sol1", Name: "Projects"},
			{ID: "sol2", Name: "Marketing"},
		},
		members: []types.Member{
			{ID: "m1", Email: "ana@example.com", FullName: "Ana Torres"},
			{ID: "m2", Email: "bo@example.com", FullName: "Bo Lindqvist"},
		},
	}
	executor := query.New(store, up)
	return NewServer(executor, store, up, "0.0.0-test"), up
}

// roundTrip feeds request lines through Serve and indexes the responses by
// request id.
func roundTrip(t *testing.T, s *Server, lines ...string) map[string]Response {
	t.Helper()
	var out bytes.Buffer
	input := strings.Join(lines, "\n") + "\n"
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(input), &out))

	responses := map[string]Response{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "bad response line %q", line)
		responses[resp.RequestID] = resp
	}
	return responses
}

func call(t *testing.T, s *Server, op string, args any) Response {
	t.Helper()
	blob, err := json.Marshal(args)
	require.NoError(t, err)
	line := fmt.Sprintf(`{"operation":%q,"args":%s,"request_id":"q1"}`, op, blob)
	return roundTrip(t, s, line)["q1"]
}

func TestPingAndVersion(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, OpPing, nil)
	assert.Empty(t, resp.Error)
	assert.Equal(t, `"pong"`, string(resp.Result))

	resp = call(t, s, OpVersion, nil)
	assert.Empty(t, resp.Error)
	assert.Contains(t, string(resp.Result), "0.0.0-test")
}

func TestUnknownOperation(t *testing.T) {
	s, _ := newTestServer(t)
	resp := roundTrip(t, s, `{"operation":"explode","request_id":"q1"}`)["q1"]
	assert.Contains(t, resp.Error, "unknown operation")
}

func TestMalformedRequestLine(t *testing.T) {
	s, _ := newTestServer(t)
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), strings.NewReader("{not json}\n"), &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Contains(t, resp.Error, "malformed request")
}

func TestListRecordsTabular(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, OpListRecords, map[string]any{
		"table_id": "tbl1",
		"filter":   map[string]any{"field": "status", "comparison": "is", "value": "active"},
	})
	require.Empty(t, resp.Error)

	var text string
	require.NoError(t, json.Unmarshal(resp.Result, &text))
	assert.Contains(t, text, "=== Showing 1 of 1 filtered records (2 total) ===")
	assert.Contains(t, text, "r1 | One")
	assert.NotContains(t, text, "r2")
}

func TestListRecordsSortStringForm(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, OpListRecords, map[string]any{
		"table_id": "tbl1",
		"sort":     "points-desc",
	})
	require.Empty(t, resp.Error)

	var text string
	require.NoError(t, json.Unmarshal(resp.Result, &text))
	r1 := strings.Index(text, "r1")
	r2 := strings.Index(text, "r2")
	require.Greater(t, r1, 0)
	require.Greater(t, r2, 0)
	assert.Less(t, r2, r1)
}

func TestListRecordsJSONFormat(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, OpListRecords, map[string]any{
		"table_id": "tbl1",
		"format":   "json",
	})
	require.Empty(t, resp.Error)

	var payload struct {
		Items []map[string]any `json:"items"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &payload))
	assert.Equal(t, 2, payload.Count)
	assert.Len(t, payload.Items, 2)
}

func TestListRecordsRequiresTableID(t *testing.T) {
	s, _ := newTestServer(t)
	resp := call(t, s, OpListRecords, map[string]any{})
	assert.Contains(t, resp.Error, "table_id is required")
}

func TestGetRecord(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, OpGetRecord, map[string]any{
		"table_id":  "tbl1",
		"record_id": "r2",
	})
	require.Empty(t, resp.Error)

	var text string
	require.NoError(t, json.Unmarshal(resp.Result, &text))
	assert.Contains(t, text, "r2 | Two")
}

func TestCreateUpdateDeleteRecord(t *testing.T) {
	s, up := newTestServer(t)

	resp := call(t, s, OpCreateRecord, map[string]any{
		"table_id": "tbl1",
		"data":     map[string]any{"title": "Three"},
	})
	require.Empty(t, resp.Error)
	assert.Contains(t, string(resp.Result), "created1")

	resp = call(t, s, OpUpdateRecord, map[string]any{
		"table_id":  "tbl1",
		"record_id": "r1",
		"data":      map[string]any{"title": "One updated"},
	})
	require.Empty(t, resp.Error)
	assert.Contains(t, string(resp.Result), "One updated")

	resp = call(t, s, OpDeleteRecord, map[string]any{
		"table_id":  "tbl1",
		"record_id": "r1",
	})
	require.Empty(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"deleted":true`)
	assert.Equal(t, []string{"r1"}, up.deletedIDs)
}

func TestListSolutionsFuzzyName(t *testing.T) {
	s, _ := newTestServer(t)

	// Two edits on a long token still match.
	resp := call(t, s, OpListSolutions, map[string]any{"name": "Projetcs"})
	require.Empty(t, resp.Error)

	var payload struct {
		Items      []types.Solution `json:"items"`
		TotalCount int              `json:"total_count"`
		Count      int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &payload))
	assert.Equal(t, 2, payload.TotalCount)
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, "sol1", payload.Items[0].ID)
}

func TestListMembersEmailExact(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, OpListMembers, map[string]any{"email": "ANA@example.com"})
	require.Empty(t, resp.Error)

	var payload struct {
		Items []types.Member `json:"items"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &payload))
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, "m1", payload.Items[0].ID)
}

func TestCacheStatusAndInvalidate(t *testing.T) {
	s, _ := newTestServer(t)

	// Populate first so status has something to report.
	resp := call(t, s, OpListRecords, map[string]any{"table_id": "tbl1"})
	require.Empty(t, resp.Error)

	resp = call(t, s, OpCacheStatus, nil)
	require.Empty(t, resp.Error)
	assert.Contains(t, string(resp.Result), "tbl1")
	assert.Contains(t, string(resp.Result), "uptime_seconds")

	resp = call(t, s, OpCacheInvalidate, map[string]any{"kind": "records", "table_id": "tbl1"})
	require.Empty(t, resp.Error)
	assert.Contains(t, string(resp.Result), "records")

	resp = call(t, s, OpCacheInvalidate, map[string]any{"kind": "bogus"})
	assert.NotEmpty(t, resp.Error)
}

func TestSetTableTTL(t *testing.T) {
	s, _ := newTestServer(t)

	resp := call(t, s, OpSetTableTTL, map[string]any{"table_id": "tbl9", "ttl_seconds": 42})
	require.Empty(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"ttl_seconds":42`)
}

func TestAddCommentRequiresText(t *testing.T) {
	s, _ := newTestServer(t)
	resp := call(t, s, OpAddComment, map[string]any{"table_id": "tbl1", "record_id": "r1"})
	assert.Contains(t, resp.Error, "text")
}

func TestConcurrentRequestsKeepRequestIDs(t *testing.T) {
	s, _ := newTestServer(t)

	lines := make([]string, 10)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"operation":"ping","request_id":"id%d"}`, i)
	}
	responses := roundTrip(t, s, lines...)
	require.Len(t, responses, 10)
	for i := range lines {
		resp := responses[fmt.Sprintf("id%d", i)]
		assert.Equal(t, `"pong"`, string(resp.Result))
	}
}

func TestTimezoneFallsBackToMemberProfile(t *testing.T) {
	s, up := newTestServer(t)
	up.self = types.Member{ID: "m1", Email: "ana@example.com", Timezone: "+09:00"}

	loc := s.timezone(context.Background())
	_, offset := time.Now().In(loc).Zone()
	assert.Equal(t, 9*3600, offset)
}

func TestTimezoneWithoutProfileUsesSystemZone(t *testing.T) {
	s, _ := newTestServer(t)

	// No configured zone and no member profile: the system zone stands.
	loc := s.timezone(context.Background())
	assert.Equal(t, time.Local, loc)
}

func TestMetricsSnapshot(t *testing.T) {
	s, _ := newTestServer(t)

	_ = call(t, s, OpPing, nil)
	_ = roundTrip(t, s, `{"operation":"explode","request_id":"x"}`)

	stats := s.Metrics().Snapshot()
	var pings int64
	for _, st := range stats {
		if st.Operation == OpPing {
			pings = st.Count
		}
	}
	assert.Equal(t, int64(1), pings)
}
