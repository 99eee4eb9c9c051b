// Package dbpool generalizes the teacher's single hardcoded PostgreSQL pool
// (internal/database/postgres/pool.go) into a per-dialect Driver contract the
// Manager dispatches on, one pool per registered database.
package dbpool

import (
	"context"
	"time"

	"github.com/nlsql/gateway/internal/registry"
)

// Column describes a single result column, as reported by the driver.
type Column struct {
	Name   string
	DBType string // driver-native type name (e.g. pgx OID name, MySQL column type)
}

// Rows is the minimal cross-dialect row-iteration contract the executor
// needs. Both the pgx.Rows and database/sql.Rows adapters satisfy it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]Column, error)
	Close()
	Err() error
}

// CommandTag reports how many rows a non-SELECT statement affected. The
// gateway never executes writes by default, but the contract is kept for
// completeness and for EXPLAIN-style statements that return a tag.
type CommandTag struct {
	RowsAffected int64
}

// Tx is a read-only transaction handle.
type Tx interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a single checked-out connection. Release is idempotent and safe to
// call even after the owning pool has begun closing.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	BeginReadOnly(ctx context.Context) (Tx, error)
	Release()
}

// PoolStats mirrors the teacher's PoolStats snapshot, generalized to any
// dialect's pool implementation.
type PoolStats struct {
	TotalConns    int32
	AcquiredConns int32
	IdleConns     int32
}

// Pool is one dialect-specific connection pool for a single registered
// database. No pool is observable until fully constructed (Driver.Open
// returns only after a successful ping); once the Manager has begun closing
// a pool, new acquisitions through the Manager fail with
// apperrors.KindPoolClosing.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Stats() PoolStats
	Health(ctx context.Context) error
	Close(ctx context.Context) error
}

// Driver opens a Pool for a registry.Descriptor of its own dialect.
type Driver interface {
	Dialect() registry.Dialect
	Open(ctx context.Context, desc registry.Descriptor) (Pool, error)
}

// CloseOutcome reports whether a single pool closed within its deadline
// (Graceful) or not; a pool that missed its deadline is not terminated, its
// driver-level close keeps running in the background (spec §4.1 shutdown
// procedure).
type CloseOutcome struct {
	Graceful bool
	Err      error
}

// defaultConnectTimeout is used when a descriptor does not set one.
const defaultConnectTimeout = 10 * time.Second
