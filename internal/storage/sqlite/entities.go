package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/storage"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

func sourceHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

// PutEntity upserts one typed entity envelope.
func (s *Store) PutEntity(ctx context.Context, kind types.EntityKind, id string, payload []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (kind, id, payload, source_hash, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			source_hash = excluded.source_hash,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		string(kind), id, string(payload), sourceHash(payload),
		now.Unix(), now.Add(ttl).Unix())
	return wrapDBError("put entity", err)
}

// GetEntity returns the envelope for (kind, id). ErrNotFound when absent,
// ErrExpired when present but past its TTL.
func (s *Store) GetEntity(ctx context.Context, kind types.EntityKind, id string) (storage.Envelope, error) {
	var (
		env            storage.Envelope
		payload        string
		cached, expiry int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, source_hash, cached_at, expires_at
		FROM entities WHERE kind = ? AND id = ?`,
		string(kind), id).Scan(&payload, &env.SourceHash, &cached, &expiry)
	if err != nil {
		return storage.Envelope{}, wrapDBError("get entity", err)
	}

	env.Kind = kind
	env.ID = id
	env.Payload = []byte(payload)
	env.CachedAt = time.Unix(cached, 0)
	env.ExpiresAt = time.Unix(expiry, 0)
	if !env.Valid(time.Now()) {
		return env, storage.ErrExpired
	}
	return env, nil
}

// PutEntityList replaces the cached set for a kind in one transaction, so a
// concurrent list read observes either the old set or the new one.
func (s *Store) PutEntityList(ctx context.Context, kind types.EntityKind, ids []string, payloads [][]byte, ttl time.Duration) error {
	now := time.Now()
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM entities WHERE kind = ?`, string(kind)); err != nil {
			return err
		}
		for i, id := range ids {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO entities (kind, id, payload, source_hash, cached_at, expires_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				string(kind), id, string(payloads[i]), sourceHash(payloads[i]),
				now.Unix(), now.Add(ttl).Unix()); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapDBError("put entity list", err)
}

// ListEntities returns every unexpired envelope of the kind. An empty result
// means the class is not cached (or fully expired); callers refetch.
func (s *Store) ListEntities(ctx context.Context, kind types.EntityKind) ([]storage.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, source_hash, cached_at, expires_at
		FROM entities WHERE kind = ? AND expires_at > ?
		ORDER BY id`,
		string(kind), time.Now().Unix())
	if err != nil {
		return nil, wrapDBError("list entities", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Envelope
	for rows.Next() {
		var (
			env            storage.Envelope
			payload        string
			cached, expiry int64
		)
		if err := rows.Scan(&env.ID, &payload, &env.SourceHash, &cached, &expiry); err != nil {
			return nil, wrapDBError("scan entity", err)
		}
		env.Kind = kind
		env.Payload = []byte(payload)
		env.CachedAt = time.Unix(cached, 0)
		env.ExpiresAt = time.Unix(expiry, 0)
		out = append(out, env)
	}
	return out, wrapDBError("list entities", rows.Err())
}
