// gridbase-mcp is the cache-and-query bridge between an AI client and a
// GridBase workspace. The default command serves the JSON-lines protocol on
// stdin/stdout; the other subcommands are operator tools for the same cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridbase/gridbase-mcp/internal/config"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "0.3.0"
	// Build can be set via ldflags at compile time.
	Build = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "gridbase-mcp",
	Short: "GridBase cache-and-query bridge",
	Long: `gridbase-mcp bridges an AI client to a GridBase workspace over a
JSON-lines protocol on stdin/stdout, backed by a persistent schema-aware
SQLite cache.

Run with no arguments to serve the protocol. The remaining subcommands
operate on the same cache and configuration from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
