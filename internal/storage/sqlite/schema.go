package sqlite

// schema is idempotent; record payloads are opaque JSON so adding or removing
// fields never requires a migration.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
    kind        TEXT NOT NULL,
    id          TEXT NOT NULL,
    payload     TEXT NOT NULL,
    source_hash TEXT NOT NULL DEFAULT '',
    cached_at   INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL,
    PRIMARY KEY (kind, id)
);

CREATE INDEX IF NOT EXISTS idx_entities_expiry ON entities(kind, expires_at);

CREATE TABLE IF NOT EXISTS table_schemas (
    table_id       TEXT PRIMARY KEY,
    structure      TEXT NOT NULL,
    structure_hash TEXT NOT NULL,
    cached_at      INTEGER NOT NULL,
    expires_at     INTEGER NOT NULL
);

-- One row per populated table; tracks the record cache's valid/expired state
-- so a populated-but-empty table still counts as valid.
CREATE TABLE IF NOT EXISTS record_tables (
    table_id   TEXT PRIMARY KEY,
    cached_at  INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
    table_id   TEXT NOT NULL,
    record_id  TEXT NOT NULL,
    data       TEXT NOT NULL,
    cached_at  INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (table_id, record_id)
);

CREATE INDEX IF NOT EXISTS idx_records_expiry ON records(table_id, expires_at);
`
