package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridbase/gridbase-mcp/internal/config"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/storage/sqlite"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

var (
	invalidateID         string
	invalidateSolution   string
	invalidateTable      string
	invalidateStructural bool
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <kind>",
	Short: "Invalidate cached data by scope",
	Long: `Invalidate cached data. Kind is one of: solutions, tables, records,
members, teams, views, deleted_records.

Plain invalidation marks rows expired so the next read refetches;
--structure-changed deletes record rows outright because the cached shape
no longer matches the table.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.EntityKind(args[0])
		ctx := cmd.Context()

		store, err := sqlite.New(ctx, config.GetString("cache.path"))
		if err != nil {
			return fmt.Errorf("cannot open cache: %w", err)
		}
		defer func() { _ = store.Close() }()

		err = store.Invalidate(ctx, storage.Scope{
			Kind:             kind,
			ID:               invalidateID,
			SolutionID:       invalidateSolution,
			TableID:          invalidateTable,
			StructureChanged: invalidateStructural,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Invalidated %s\n", kind)
		return nil
	},
}

func init() {
	invalidateCmd.Flags().StringVar(&invalidateID, "id", "", "Limit to one entity id")
	invalidateCmd.Flags().StringVar(&invalidateSolution, "solution", "", "Limit to one solution's tables and records")
	invalidateCmd.Flags().StringVar(&invalidateTable, "table", "", "Limit to one table's records")
	invalidateCmd.Flags().BoolVar(&invalidateStructural, "structure-changed", false, "Delete record rows instead of marking them expired")
}
