package storage

import (
	"context"
	"time"

	"github.com/gridbase/gridbase-mcp/internal/types"
)

// Unavailable is the degraded store used when the cache cannot be opened at
// startup. Every operation fails with CacheUnavailableError, which the query
// executor translates into direct upstream serving.
type Unavailable struct {
	Reason error
}

var _ Store = (*Unavailable)(nil)

func (u *Unavailable) err(op string) error {
	return &CacheUnavailableError{Op: op, Err: u.Reason}
}

func (u *Unavailable) PutEntity(context.Context, types.EntityKind, string, []byte, time.Duration) error {
	return u.err("put entity")
}

func (u *Unavailable) GetEntity(context.Context, types.EntityKind, string) (Envelope, error) {
	return Envelope{}, u.err("get entity")
}

func (u *Unavailable) PutEntityList(context.Context, types.EntityKind, []string, [][]byte, time.Duration) error {
	return u.err("put entity list")
}

func (u *Unavailable) ListEntities(context.Context, types.EntityKind) ([]Envelope, error) {
	return nil, u.err("list entities")
}

func (u *Unavailable) PutTableSchema(context.Context, string, []types.Field, time.Duration) error {
	return u.err("put table schema")
}

func (u *Unavailable) GetTableSchema(context.Context, string) ([]types.Field, error) {
	return nil, u.err("get table schema")
}

func (u *Unavailable) PutRecords(context.Context, string, []types.Field, []types.Record, time.Duration) error {
	return u.err("put records")
}

func (u *Unavailable) PutRecord(context.Context, string, types.Record) error {
	return u.err("put record")
}

func (u *Unavailable) DeleteRecord(context.Context, string, string) error {
	return u.err("delete record")
}

func (u *Unavailable) GetRecords(context.Context, string, RecordQuery) (RecordPage, error) {
	return RecordPage{}, u.err("get records")
}

func (u *Unavailable) GetRecord(context.Context, string, string) (types.Record, error) {
	return types.Record{}, u.err("get record")
}

func (u *Unavailable) RecordsValid(context.Context, string) (bool, error) {
	return false, u.err("records valid")
}

func (u *Unavailable) Invalidate(context.Context, Scope) error {
	return u.err("invalidate")
}

func (u *Unavailable) Status(context.Context) (Status, error) {
	return Status{}, u.err("status")
}

func (u *Unavailable) Close() error { return nil }
