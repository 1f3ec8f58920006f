package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/config"
	"github.com/gridbase/gridbase-mcp/internal/debug"
	"github.com/gridbase/gridbase-mcp/internal/query"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/telemetry"
	"github.com/gridbase/gridbase-mcp/internal/upstream"
)

// maxLineBytes bounds one request line. Filters and record payloads are
// small; 16MB leaves generous headroom.
const maxLineBytes = 16 << 20

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Server dispatches JSON-lines requests to the query executor, the store's
// control surface, and the upstream client.
type Server struct {
	executor *query.Executor
	store    storage.Store
	upstream upstream.Client
	version  string
	metrics  *Metrics

	handlers map[string]handlerFunc

	tzOnce sync.Once
	tz     *time.Location

	writeMu sync.Mutex
	out     io.Writer
}

// timezone resolves the zone record timestamps render in: the configured
// zone, else the authenticated member's profile zone, else the system zone.
// Resolved once; the member lookup only runs when the config key is unset.
func (s *Server) timezone(ctx context.Context) *time.Location {
	s.tzOnce.Do(func() {
		fallback := ""
		if config.GetString("timezone") == "" {
			if me, err := s.upstream.FetchSelf(ctx); err == nil {
				fallback = me.Timezone
			} else {
				debug.Logf("member profile lookup failed: %v\n", err)
			}
		}
		s.tz = config.Timezone(fallback)
	})
	return s.tz
}

// NewServer wires the full operation surface.
func NewServer(executor *query.Executor, store storage.Store, up upstream.Client, version string) *Server {
	s := &Server{
		executor: executor,
		store:    store,
		upstream: up,
		version:  version,
		metrics:  NewMetrics(),
	}
	s.initHandlers()
	return s
}

func (s *Server) initHandlers() {
	s.handlers = map[string]handlerFunc{
		OpListSolutions: s.handleListSolutions,
		OpGetSolution:   s.handleGetSolution,
		OpListTables:    s.handleListTables,
		OpGetTable:      s.handleGetTable,

		OpListRecords:  s.handleListRecords,
		OpGetRecord:    s.handleGetRecord,
		OpCreateRecord: s.handleCreateRecord,
		OpUpdateRecord: s.handleUpdateRecord,
		OpDeleteRecord: s.handleDeleteRecord,

		OpListMembers: s.handleListMembers,
		OpGetMember:   s.handleGetMember,
		OpListTeams:   s.handleListTeams,

		OpListViews:          s.handleListViews,
		OpListDeletedRecords: s.handleListDeletedRecords,

		OpListComments: s.handleListComments,
		OpAddComment:   s.handleAddComment,

		OpCacheStatus:     s.handleCacheStatus,
		OpCacheInvalidate: s.handleCacheInvalidate,
		OpSetTableTTL:     s.handleSetTableTTL,

		OpPing:    s.handlePing,
		OpVersion: s.handleVersion,
	}
}

// Metrics exposes the server's local metrics collector.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Serve reads request lines from r until EOF or context cancellation,
// spawning one goroutine per request. It returns after every in-flight
// request has been answered.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = w

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var wg sync.WaitGroup
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.send(&Response{Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.send(s.handleRequest(ctx, &req))
		}()
	}
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read requests: %w", err)
	}
	return ctx.Err()
}

// handleRequest runs one operation under the per-request deadline.
func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	handler, ok := s.handlers[req.Operation]
	if !ok {
		return &Response{RequestID: req.RequestID,
			Error: fmt.Sprintf("unknown operation %q", req.Operation)}
	}

	timeout := config.GetDuration("request.timeout_seconds")
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := handler(reqCtx, req.Args)
	latency := time.Since(start)
	s.metrics.RecordRequest(req.Operation, latency, err != nil)
	telemetry.RecordRequest(ctx, req.Operation, latency, err != nil)

	if err != nil {
		debug.Logf("%s failed after %s: %v\n", req.Operation, latency, err)
		return &Response{RequestID: req.RequestID, Error: err.Error()}
	}

	blob, err := json.Marshal(result)
	if err != nil {
		return &Response{RequestID: req.RequestID,
			Error: fmt.Sprintf("failed to encode response: %v", err)}
	}
	return &Response{RequestID: req.RequestID, Result: blob}
}

// send writes one response line. The write lock keeps concurrent responses
// from interleaving on the shared writer.
func (s *Server) send(resp *Response) {
	blob, err := json.Marshal(resp)
	if err != nil {
		blob = []byte(fmt.Sprintf(`{"request_id":%q,"error":"failed to encode response"}`, resp.RequestID))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.out.Write(blob)
	_, _ = s.out.Write([]byte("\n"))
	if flusher, ok := s.out.(interface{ Flush() error }); ok {
		_ = flusher.Flush()
	}
}
