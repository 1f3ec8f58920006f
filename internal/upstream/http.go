package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gridbase/gridbase-mcp/internal/debug"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// fetchPageSize is the page size used when draining a table's records.
const fetchPageSize = 500

// retryMaxElapsed bounds the exponential backoff around one API call; the
// request deadline still cuts it short through the context.
const retryMaxElapsed = 20 * time.Second

// HTTPClient implements Client against the GridBase REST API.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	workspaceID string
	httpClient  *http.Client
}

// Options configures the HTTP client. Timeout applies per attempt; zero means
// 30 seconds.
type Options struct {
	BaseURL     string
	APIKey      string
	WorkspaceID string
	Timeout     time.Duration
}

// NewHTTPClient builds the REST client. The base URL must carry the scheme.
func NewHTTPClient(opts Options) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		workspaceID: opts.WorkspaceID,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// do performs one API call with exponential backoff on transient failures.
// 4xx responses are permanent; 5xx and transport errors retry.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	urlStr := c.baseURL + path
	if len(query) > 0 {
		urlStr += "?" + query.Encode()
	}

	op := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if c.workspaceID != "" {
			req.Header.Set("X-Workspace-Id", c.workspaceID)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // transport errors retry
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("upstream %s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(apiError(method, path, resp.StatusCode, respBody))
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode upstream response: %w", err))
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		debug.Logf("upstream %s %s failed: %v\n", method, path, err)
	}
	return err
}

// apiError extracts the upstream's error message when the body carries one.
func apiError(method, path string, status int, body []byte) error {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return fmt.Errorf("upstream %s %s: %s", method, path, envelope.Error)
		}
		if envelope.Message != "" {
			return fmt.Errorf("upstream %s %s: %s", method, path, envelope.Message)
		}
	}
	return fmt.Errorf("upstream %s %s: status %d", method, path, status)
}

// listEnvelope is the upstream's standard list response shape.
type listEnvelope[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
}

// FetchTableRecords drains the table through the upstream's pagination and
// returns the full set.
func (c *HTTPClient) FetchTableRecords(ctx context.Context, tableID string, hydrated bool) (TableRecords, error) {
	var result TableRecords

	table, err := c.FetchTable(ctx, tableID)
	if err != nil {
		return result, err
	}
	result.Structure = table.Structure

	offset := 0
	for {
		query := url.Values{}
		query.Set("limit", fmt.Sprint(fetchPageSize))
		query.Set("offset", fmt.Sprint(offset))
		if hydrated {
			query.Set("hydrated", "true")
		}

		var page listEnvelope[types.Record]
		if err := c.do(ctx, http.MethodGet, "/tables/"+url.PathEscape(tableID)+"/records", query, nil, &page); err != nil {
			return result, err
		}
		result.Items = append(result.Items, page.Items...)
		result.TotalCount = page.TotalCount

		offset += len(page.Items)
		if len(page.Items) < fetchPageSize || offset >= page.TotalCount {
			break
		}
	}
	if result.TotalCount == 0 {
		result.TotalCount = len(result.Items)
	}
	return result, nil
}

func (c *HTTPClient) FetchRecord(ctx context.Context, tableID, recordID string) (types.Record, error) {
	var rec types.Record
	err := c.do(ctx, http.MethodGet,
		"/tables/"+url.PathEscape(tableID)+"/records/"+url.PathEscape(recordID), nil, nil, &rec)
	return rec, err
}

func (c *HTTPClient) FetchSolutions(ctx context.Context) ([]types.Solution, error) {
	var page listEnvelope[types.Solution]
	err := c.do(ctx, http.MethodGet, "/solutions", nil, nil, &page)
	return page.Items, err
}

func (c *HTTPClient) FetchSolution(ctx context.Context, id string) (types.Solution, error) {
	var sol types.Solution
	err := c.do(ctx, http.MethodGet, "/solutions/"+url.PathEscape(id), nil, nil, &sol)
	return sol, err
}

func (c *HTTPClient) FetchTables(ctx context.Context, solutionID string) ([]types.Table, error) {
	query := url.Values{}
	if solutionID != "" {
		query.Set("solution_id", solutionID)
	}
	var page listEnvelope[types.Table]
	err := c.do(ctx, http.MethodGet, "/tables", query, nil, &page)
	return page.Items, err
}

func (c *HTTPClient) FetchTable(ctx context.Context, id string) (types.Table, error) {
	var table types.Table
	err := c.do(ctx, http.MethodGet, "/tables/"+url.PathEscape(id), nil, nil, &table)
	return table, err
}

func (c *HTTPClient) FetchMembers(ctx context.Context) ([]types.Member, error) {
	var page listEnvelope[types.Member]
	err := c.do(ctx, http.MethodGet, "/members", nil, nil, &page)
	return page.Items, err
}

func (c *HTTPClient) FetchMember(ctx context.Context, id string) (types.Member, error) {
	var member types.Member
	err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(id), nil, nil, &member)
	return member, err
}

func (c *HTTPClient) FetchSelf(ctx context.Context) (types.Member, error) {
	var member types.Member
	err := c.do(ctx, http.MethodGet, "/members/me", nil, nil, &member)
	return member, err
}

func (c *HTTPClient) FetchTeams(ctx context.Context) ([]types.Team, error) {
	var page listEnvelope[types.Team]
	err := c.do(ctx, http.MethodGet, "/teams", nil, nil, &page)
	return page.Items, err
}

func (c *HTTPClient) FetchViews(ctx context.Context, tableID string) ([]types.View, error) {
	query := url.Values{}
	query.Set("table_id", tableID)
	var page listEnvelope[types.View]
	err := c.do(ctx, http.MethodGet, "/views", query, nil, &page)
	return page.Items, err
}

func (c *HTTPClient) FetchDeletedRecords(ctx context.Context, solutionID string) ([]types.DeletedRecord, error) {
	query := url.Values{}
	query.Set("solution_id", solutionID)
	var page listEnvelope[types.DeletedRecord]
	err := c.do(ctx, http.MethodGet, "/deleted_records", query, nil, &page)
	return page.Items, err
}

func (c *HTTPClient) CreateRecord(ctx context.Context, tableID string, data map[string]any) (types.Record, error) {
	var rec types.Record
	err := c.do(ctx, http.MethodPost,
		"/tables/"+url.PathEscape(tableID)+"/records", nil, map[string]any{"data": data}, &rec)
	return rec, err
}

func (c *HTTPClient) UpdateRecord(ctx context.Context, tableID, recordID string, data map[string]any) (types.Record, error) {
	var rec types.Record
	err := c.do(ctx, http.MethodPatch,
		"/tables/"+url.PathEscape(tableID)+"/records/"+url.PathEscape(recordID), nil,
		map[string]any{"data": data}, &rec)
	return rec, err
}

func (c *HTTPClient) DeleteRecord(ctx context.Context, tableID, recordID string) error {
	return c.do(ctx, http.MethodDelete,
		"/tables/"+url.PathEscape(tableID)+"/records/"+url.PathEscape(recordID), nil, nil, nil)
}

func (c *HTTPClient) ListComments(ctx context.Context, tableID, recordID string) ([]types.Comment, error) {
	var page listEnvelope[types.Comment]
	err := c.do(ctx, http.MethodGet,
		"/tables/"+url.PathEscape(tableID)+"/records/"+url.PathEscape(recordID)+"/comments", nil, nil, &page)
	return page.Items, err
}

func (c *HTTPClient) AddComment(ctx context.Context, tableID, recordID, text string) (types.Comment, error) {
	var comment types.Comment
	err := c.do(ctx, http.MethodPost,
		"/tables/"+url.PathEscape(tableID)+"/records/"+url.PathEscape(recordID)+"/comments", nil,
		map[string]any{"text": text}, &comment)
	return comment, err
}
