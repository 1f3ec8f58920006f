package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gridbase/gridbase-mcp/internal/config"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/storage/sqlite"
	"github.com/gridbase/gridbase-mcp/internal/ui"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache contents and freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	path := config.GetString("cache.path")

	store, err := sqlite.New(ctx, path)
	if err != nil {
		return fmt.Errorf("cannot open cache at %s: %w", path, err)
	}
	defer func() { _ = store.Close() }()

	status, err := store.Status(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Println(ui.Render(ui.HeaderStyle, "Cache: "+path))
	if fi, err := os.Stat(path); err == nil {
		fmt.Printf("Size: %s\n", humanize.Bytes(uint64(fi.Size())))
	}
	fmt.Println()

	printSection("Entities", status.Entities)
	printSection("Schemas", status.Schemas)
	printSection("Records", status.Records)
	return nil
}

func printSection(title string, entries []storage.KindStatus) {
	fmt.Println(ui.Render(ui.AccentStyle, title))
	if len(entries) == 0 {
		fmt.Println(ui.Render(ui.MutedStyle, "  (empty)"))
		fmt.Println()
		return
	}
	now := time.Now()
	for _, entry := range entries {
		line := fmt.Sprintf("  %-28s %s rows", entry.Kind, humanize.Comma(int64(entry.Count)))
		switch {
		case entry.NextExpiry == nil:
			line += ui.Render(ui.MutedStyle, "  no expiry")
		case entry.NextExpiry.Before(now):
			line += ui.Render(ui.WarnStyle, fmt.Sprintf("  %s expired", ui.IconWarn))
		default:
			line += ui.Render(ui.OKStyle,
				fmt.Sprintf("  %s fresh, expires %s", ui.IconOK, humanize.Time(*entry.NextExpiry)))
		}
		if entry.TTLSeconds > 0 {
			line += ui.Render(ui.MutedStyle, fmt.Sprintf("  (ttl %ds)", entry.TTLSeconds))
		}
		fmt.Println(line)
	}
	fmt.Println()
}
