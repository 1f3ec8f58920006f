package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// structureHash is the structural identity of a schema: the slug+type pairs,
// order insensitive. Label and params changes are not structural and do not
// alter the hash.
func structureHash(structure []types.Field) string {
	pairs := make([]string, 0, len(structure))
	for _, f := range structure {
		pairs = append(pairs, f.Slug+":"+f.FieldType)
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(sum[:])
}

// PutTableSchema upserts the field descriptor list for a table.
func (s *Store) PutTableSchema(ctx context.Context, tableID string, structure []types.Field, ttl time.Duration) error {
	blob, err := json.Marshal(structure)
	if err != nil {
		return fmt.Errorf("failed to encode structure: %w", err)
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO table_schemas (table_id, structure, structure_hash, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_id) DO UPDATE SET
			structure = excluded.structure,
			structure_hash = excluded.structure_hash,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		tableID, string(blob), structureHash(structure), now.Unix(), now.Add(ttl).Unix())
	return wrapDBError("put table schema", err)
}

// GetTableSchema returns the cached field list for a table. ErrNotFound when
// absent, ErrExpired past TTL.
func (s *Store) GetTableSchema(ctx context.Context, tableID string) ([]types.Field, error) {
	var (
		blob   string
		expiry int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT structure, expires_at FROM table_schemas WHERE table_id = ?`,
		tableID).Scan(&blob, &expiry)
	if err != nil {
		return nil, wrapDBError("get table schema", err)
	}

	var structure []types.Field
	if err := json.Unmarshal([]byte(blob), &structure); err != nil {
		return nil, &storage.CacheUnavailableError{Op: "decode table schema", Err: err}
	}
	if time.Now().Unix() >= expiry {
		return structure, storage.ErrExpired
	}
	return structure, nil
}

// storedStructureHash reads the structural hash for a table on the given
// connection, ignoring expiry: structure-change detection compares against
// whatever is physically present.
func storedStructureHash(ctx context.Context, conn *sql.Conn, tableID string) (string, bool, error) {
	var hash string
	err := conn.QueryRowContext(ctx,
		`SELECT structure_hash FROM table_schemas WHERE table_id = ?`, tableID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}
