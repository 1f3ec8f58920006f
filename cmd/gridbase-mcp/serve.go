package main

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridbase/gridbase-mcp/internal/config"
	"github.com/gridbase/gridbase-mcp/internal/debug"
	"github.com/gridbase/gridbase-mcp/internal/query"
	"github.com/gridbase/gridbase-mcp/internal/rpc"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/storage/sqlite"
	"github.com/gridbase/gridbase-mcp/internal/telemetry"
	"github.com/gridbase/gridbase-mcp/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON-lines protocol on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// runServe wires the store, upstream client, executor, and server, then
// blocks on stdin until EOF. A cache that fails to open degrades to
// upstream-only serving rather than refusing to start.
func runServe(ctx context.Context) error {
	if err := telemetry.Init(ctx, "gridbase-mcp", Version); err != nil {
		debug.Errorf("telemetry init failed: %v\n", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	store := openStore(ctx)
	defer func() { _ = store.Close() }()

	up := newUpstreamClient()
	executor := query.New(store, up)
	server := rpc.NewServer(executor, store, up, Version)

	out := bufio.NewWriter(os.Stdout)
	defer func() { _ = out.Flush() }()
	return server.Serve(ctx, os.Stdin, out)
}

func openStore(ctx context.Context) storage.Store {
	path := config.GetString("cache.path")
	store, err := sqlite.New(ctx, path)
	if err != nil {
		debug.Errorf("cache unavailable at %s, serving upstream directly: %v\n", path, err)
		return &storage.Unavailable{Reason: err}
	}
	return store
}

func newUpstreamClient() upstream.Client {
	return upstream.NewHTTPClient(upstream.Options{
		BaseURL:     config.GetString("upstream.base_url"),
		APIKey:      config.GetString("upstream.api_key"),
		WorkspaceID: config.GetString("upstream.workspace_id"),
		Timeout:     config.GetDuration("upstream.timeout_seconds"),
	})
}
