package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// schemaTTL is how long a schema written alongside a populate stays fresh.
var schemaTTL = fieldtypes.TTLLong.Duration()

// PutRecords bulk-upserts a table's record set along with its schema. When
// the written schema differs structurally from the stored one (slug added,
// removed, or re-typed), every pre-existing row for the table is deleted in
// the same transaction, so no record from the old schema remains observable.
func (s *Store) PutRecords(ctx context.Context, tableID string, structure []types.Field, records []types.Record, ttl time.Duration) error {
	structBlob, err := json.Marshal(structure)
	if err != nil {
		return &storage.SchemaMismatchError{TableID: tableID, Err: err}
	}
	newHash := structureHash(structure)
	now := time.Now()
	expires := now.Add(ttl).Unix()

	err = s.withTx(ctx, func(conn *sql.Conn) error {
		oldHash, found, err := storedStructureHash(ctx, conn, tableID)
		if err != nil {
			return err
		}
		if found && oldHash != newHash {
			if _, err := conn.ExecContext(ctx,
				`DELETE FROM records WHERE table_id = ?`, tableID); err != nil {
				return fmt.Errorf("failed to clear records on structure change: %w", err)
			}
		}

		if _, err := conn.ExecContext(ctx, `
			INSERT INTO table_schemas (table_id, structure, structure_hash, cached_at, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(table_id) DO UPDATE SET
				structure = excluded.structure,
				structure_hash = excluded.structure_hash,
				cached_at = excluded.cached_at,
				expires_at = excluded.expires_at`,
			tableID, string(structBlob), newHash, now.Unix(), now.Add(schemaTTL).Unix()); err != nil {
			return err
		}

		for _, rec := range records {
			blob, err := json.Marshal(rec.Data)
			if err != nil {
				return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
			}
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO records (table_id, record_id, data, cached_at, expires_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(table_id, record_id) DO UPDATE SET
					data = excluded.data,
					cached_at = excluded.cached_at,
					expires_at = excluded.expires_at`,
				tableID, rec.ID, string(blob), now.Unix(), expires); err != nil {
				return err
			}
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO record_tables (table_id, cached_at, expires_at)
			VALUES (?, ?, ?)
			ON CONFLICT(table_id) DO UPDATE SET
				cached_at = excluded.cached_at,
				expires_at = excluded.expires_at`,
			tableID, now.Unix(), expires)
		return err
	})
	return wrapDBError("put records", err)
}

// PutRecord upserts one record without comparing schemas; it reflects a
// mutation response. New field slugs in the payload are accepted silently
// (the payload is opaque); only a populate triggers a structure change.
func (s *Store) PutRecord(ctx context.Context, tableID string, record types.Record) error {
	blob, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.ID, err)
	}
	now := time.Now()

	// Keep the row's expiry aligned with the table's, so a write-through
	// does not outlive the populate it patched.
	var expires int64
	err2 := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM record_tables WHERE table_id = ?`, tableID).Scan(&expires)
	if errors.Is(err2, sql.ErrNoRows) || (err2 == nil && expires <= now.Unix()) {
		expires = now.Add(fieldtypes.TTLMedium.Duration()).Unix()
	} else if err2 != nil {
		return wrapDBError("put record", err2)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (table_id, record_id, data, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_id, record_id) DO UPDATE SET
			data = excluded.data,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		tableID, record.ID, string(blob), now.Unix(), expires)
	return wrapDBError("put record", err)
}

// DeleteRecord removes one cached row. Missing rows are not an error.
func (s *Store) DeleteRecord(ctx context.Context, tableID, recordID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE table_id = ? AND record_id = ?`, tableID, recordID)
	return wrapDBError("delete record", err)
}

// RecordsValid reports whether the table's record cache is populated and
// unexpired. A populated empty table is valid; expiry is observed lazily.
func (s *Store) RecordsValid(ctx context.Context, tableID string) (bool, error) {
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM record_tables WHERE table_id = ?`, tableID).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapDBError("records valid", err)
	}
	return time.Now().Unix() < expires, nil
}

// GetRecords executes a compiled query against one table's record cache.
// Returns ErrExpired when the cache is not in the valid state so the caller
// repopulates from upstream.
func (s *Store) GetRecords(ctx context.Context, tableID string, q storage.RecordQuery) (storage.RecordPage, error) {
	valid, err := s.RecordsValid(ctx, tableID)
	if err != nil {
		return storage.RecordPage{}, err
	}
	if !valid {
		return storage.RecordPage{}, storage.ErrExpired
	}

	var page storage.RecordPage
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE table_id = ?`, tableID).Scan(&page.TotalCount); err != nil {
		return storage.RecordPage{}, wrapDBError("count records", err)
	}

	cond := q.Condition.SQL
	if cond == "" {
		cond = "1"
	}
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM records WHERE table_id = ? AND (%s)`, cond),
		append([]any{tableID}, q.Condition.Args...)...).Scan(&page.FilteredCount); err != nil {
		return storage.RecordPage{}, wrapDBError("count filtered records", err)
	}

	query := fmt.Sprintf(
		`SELECT record_id, data FROM records WHERE table_id = ? AND (%s) ORDER BY %s`,
		cond, orderBy(q.Sort))
	args := append([]any{tableID}, q.Condition.Args...)
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	} else if q.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.RecordPage{}, wrapDBError("query records", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanRecord(rows, tableID)
		if err != nil {
			return storage.RecordPage{}, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, wrapDBError("query records", rows.Err())
}

// GetRecord fetches one cached row, honouring the table-level validity state.
func (s *Store) GetRecord(ctx context.Context, tableID, recordID string) (types.Record, error) {
	valid, err := s.RecordsValid(ctx, tableID)
	if err != nil {
		return types.Record{}, err
	}
	if !valid {
		return types.Record{}, storage.ErrExpired
	}

	var blob string
	err = s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE table_id = ? AND record_id = ?`,
		tableID, recordID).Scan(&blob)
	if err != nil {
		return types.Record{}, wrapDBError("get record", err)
	}

	rec := types.Record{ID: recordID, TableID: tableID}
	if err := json.Unmarshal([]byte(blob), &rec.Data); err != nil {
		return types.Record{}, &storage.CacheUnavailableError{Op: "decode record", Err: err}
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, tableID string) (types.Record, error) {
	var (
		rec  types.Record
		blob string
	)
	if err := row.Scan(&rec.ID, &blob); err != nil {
		return types.Record{}, wrapDBError("scan record", err)
	}
	rec.TableID = tableID
	if err := json.Unmarshal([]byte(blob), &rec.Data); err != nil {
		return types.Record{}, &storage.CacheUnavailableError{Op: "decode record", Err: err}
	}
	return rec, nil
}

// orderBy renders the sort keys with nulls last regardless of direction,
// falling back to record id for a stable order.
func orderBy(keys []storage.SortKey) string {
	if len(keys) == 0 {
		return "record_id"
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("((%s) IS NULL) ASC, (%s) %s", k.Expr, k.Expr, dir))
	}
	parts = append(parts, "record_id")
	return strings.Join(parts, ", ")
}
