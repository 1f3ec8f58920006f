package sqlite

import (
	"context"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Status reports, per cached entity class, the valid row count and the next
// timestamp at which something expires. Records get one entry per table.
func (s *Store) Status(ctx context.Context) (storage.Status, error) {
	now := time.Now().Unix()
	var st storage.Status

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), MIN(expires_at), MAX(expires_at - cached_at)
		FROM entities WHERE expires_at > ?
		GROUP BY kind`, now)
	if err != nil {
		return st, wrapDBError("status entities", err)
	}
	byKind := make(map[string]storage.KindStatus)
	for rows.Next() {
		var (
			ks          storage.KindStatus
			expiry, ttl int64
		)
		if err := rows.Scan(&ks.Kind, &ks.Count, &expiry, &ttl); err != nil {
			_ = rows.Close()
			return st, wrapDBError("status entities", err)
		}
		t := time.Unix(expiry, 0)
		ks.NextExpiry = &t
		ks.TTLSeconds = int(ttl)
		byKind[ks.Kind] = ks
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return st, wrapDBError("status entities", err)
	}
	for _, kind := range types.AllEntityKinds() {
		if ks, ok := byKind[string(kind)]; ok {
			st.Entities = append(st.Entities, ks)
		} else {
			st.Entities = append(st.Entities, storage.KindStatus{Kind: string(kind)})
		}
	}

	var (
		schemaCount  int
		schemaExpiry *int64
		schemaTTL    *int64
	)
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(expires_at), MAX(expires_at - cached_at)
		FROM table_schemas WHERE expires_at > ?`,
		now).Scan(&schemaCount, &schemaExpiry, &schemaTTL); err != nil {
		return st, wrapDBError("status schemas", err)
	}
	schemas := storage.KindStatus{Kind: "table_schemas", Count: schemaCount}
	if schemaExpiry != nil {
		t := time.Unix(*schemaExpiry, 0)
		schemas.NextExpiry = &t
	}
	if schemaTTL != nil {
		schemas.TTLSeconds = int(*schemaTTL)
	}
	st.Schemas = append(st.Schemas, schemas)

	rows, err = s.db.QueryContext(ctx, `
		SELECT rt.table_id, rt.cached_at, rt.expires_at,
		       (SELECT COUNT(*) FROM records r WHERE r.table_id = rt.table_id)
		FROM record_tables rt WHERE rt.expires_at > ?
		ORDER BY rt.table_id`, now)
	if err != nil {
		return st, wrapDBError("status records", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			ks             storage.KindStatus
			cached, expiry int64
		)
		if err := rows.Scan(&ks.Kind, &cached, &expiry, &ks.Count); err != nil {
			return st, wrapDBError("status records", err)
		}
		t := time.Unix(expiry, 0)
		ks.NextExpiry = &t
		ks.TTLSeconds = int(expiry - cached)
		st.Records = append(st.Records, ks)
	}
	return st, wrapDBError("status records", rows.Err())
}
