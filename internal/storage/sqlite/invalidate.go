package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Invalidate resolves the scope to the affected key set and applies it in one
// transaction, so a racing read observes either the pre-state or the
// post-state, never a partial one.
//
// Cascade rules:
//   - solutions: clears all tables and all records.
//   - tables without a solution id: clears all tables and records.
//   - tables with a solution id: clears only that solution's tables and
//     their records.
//   - records with a table id: clears only that table's records.
//   - members/teams/views/deleted_records: never touch record data.
//
// StructureChanged deletes rows outright (and drops the table schema);
// otherwise rows are marked expired, which is cheaper and keeps metadata
// around for the status report until the next populate overwrites it.
func (s *Store) Invalidate(ctx context.Context, scope storage.Scope) error {
	if !scope.Kind.IsValid() && scope.Kind != types.KindRecords {
		return fmt.Errorf("unknown invalidation kind %q", scope.Kind)
	}

	err := s.withTx(ctx, func(conn *sql.Conn) error {
		inv := invalidator{ctx: ctx, conn: conn, hard: scope.StructureChanged}

		switch scope.Kind {
		case types.KindSolutions:
			if err := inv.entities(types.KindSolutions, scope.ID); err != nil {
				return err
			}
			return inv.allTables()

		case types.KindTables:
			if scope.SolutionID == "" {
				return inv.allTables()
			}
			return inv.solutionTables(scope.SolutionID)

		case types.KindRecords:
			if scope.TableID == "" {
				return inv.allRecords()
			}
			return inv.tableRecords(scope.TableID)

		default:
			return inv.entities(scope.Kind, scope.ID)
		}
	})
	return wrapDBError("invalidate", err)
}

type invalidator struct {
	ctx  context.Context
	conn *sql.Conn
	hard bool
}

// apply runs the delete or the expiry-mark variant of a statement. where must
// start with "WHERE" or be empty.
func (in invalidator) apply(table, where string, args ...any) error {
	var stmt string
	if in.hard {
		stmt = fmt.Sprintf("DELETE FROM %s %s", table, where)
	} else {
		stmt = fmt.Sprintf("UPDATE %s SET expires_at = 0 %s", table, where)
	}
	_, err := in.conn.ExecContext(in.ctx, stmt, args...)
	return err
}

func (in invalidator) entities(kind types.EntityKind, id string) error {
	if id != "" {
		return in.apply("entities", "WHERE kind = ? AND id = ?", string(kind), id)
	}
	return in.apply("entities", "WHERE kind = ?", string(kind))
}

func (in invalidator) allTables() error {
	if err := in.entities(types.KindTables, ""); err != nil {
		return err
	}
	return in.allRecords()
}

func (in invalidator) allRecords() error {
	for _, table := range []string{"table_schemas", "record_tables", "records"} {
		if err := in.apply(table, ""); err != nil {
			return err
		}
	}
	return nil
}

// solutionTables narrows the tables cascade to one solution's tables, found
// through the cached table entities' solution_id attribute.
func (in invalidator) solutionTables(solutionID string) error {
	rows, err := in.conn.QueryContext(in.ctx, `
		SELECT id FROM entities
		WHERE kind = ? AND json_extract(payload, '$.solution_id') = ?`,
		string(types.KindTables), solutionID)
	if err != nil {
		return err
	}
	var tableIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		tableIDs = append(tableIDs, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, tableID := range tableIDs {
		if err := in.apply("entities", "WHERE kind = ? AND id = ?",
			string(types.KindTables), tableID); err != nil {
			return err
		}
		if err := in.tableRecords(tableID); err != nil {
			return err
		}
	}
	return nil
}

func (in invalidator) tableRecords(tableID string) error {
	if err := in.apply("records", "WHERE table_id = ?", tableID); err != nil {
		return err
	}
	if err := in.apply("record_tables", "WHERE table_id = ?", tableID); err != nil {
		return err
	}
	if in.hard {
		// The schema cache falls with its records only on structure change.
		return in.apply("table_schemas", "WHERE table_id = ?", tableID)
	}
	return nil
}
