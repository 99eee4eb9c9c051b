// Package postgres adapts the teacher's PostgresPool
// (internal/database/postgres/pool.go) into a dbpool.Driver: same
// pgxpool.Pool wiring, same Connect/ping/health-check shape, generalized to
// take a registry.Descriptor instead of one global env-loaded config.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nlsql/gateway/internal/dbpool"
	"github.com/nlsql/gateway/internal/registry"
)

// Driver implements dbpool.Driver for PostgreSQL via jackc/pgx/v5.
type Driver struct{}

func (Driver) Dialect() registry.Dialect { return registry.DialectPostgres }

func (Driver) Open(ctx context.Context, desc registry.Descriptor) (dbpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(desc.URI)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if desc.PoolMax > 0 {
		poolConfig.MaxConns = desc.PoolMax
	}
	if desc.PoolMin > 0 {
		poolConfig.MinConns = desc.PoolMin
	}

	connectTimeout := desc.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{pool: pool, statementTimeout: desc.StatementTimeout}, nil
}

// Pool wraps *pgxpool.Pool behind dbpool.Pool.
type Pool struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

func (p *Pool) Acquire(ctx context.Context) (dbpool.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c, statementTimeout: p.statementTimeout}, nil
}

func (p *Pool) Stats() dbpool.PoolStats {
	s := p.pool.Stat()
	return dbpool.PoolStats{
		TotalConns:    s.TotalConns(),
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
	}
}

func (p *Pool) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Pool) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pool.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// pgxpool.Close blocks until all acquired connections are
		// released; since it already kicked off in the goroutine above,
		// connections still in flight will be force-closed once the
		// underlying pgx connections' own contexts expire.
		return ctx.Err()
	}
}

// Conn wraps *pgxpool.Conn behind dbpool.Conn.
type Conn struct {
	conn             *pgxpool.Conn
	statementTimeout time.Duration
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (dbpool.Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (dbpool.CommandTag, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return dbpool.CommandTag{}, err
	}
	return dbpool.CommandTag{RowsAffected: tag.RowsAffected()}, nil
}

func (c *Conn) BeginReadOnly(ctx context.Context) (dbpool.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Release() {
	c.conn.Release()
}

// Tx wraps pgx.Tx behind dbpool.Tx.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (dbpool.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Rows wraps pgx.Rows behind dbpool.Rows.
type Rows struct {
	rows pgx.Rows
}

func (r *Rows) Next() bool               { return r.rows.Next() }
func (r *Rows) Scan(dest ...any) error   { return r.rows.Scan(dest...) }
func (r *Rows) Close()                   { r.rows.Close() }
func (r *Rows) Err() error               { return r.rows.Err() }

func (r *Rows) Columns() ([]dbpool.Column, error) {
	fields := r.rows.FieldDescriptions()
	cols := make([]dbpool.Column, len(fields))
	for i, f := range fields {
		cols[i] = dbpool.Column{Name: f.Name, DBType: pgTypeName(f.DataTypeOID)}
	}
	return cols, nil
}

// pgTypeName maps a handful of common pg_type OIDs to readable names; the
// executor only needs these to pick a canonical type tag (see mapTypeTag in
// internal/executor/executor.go), it does not need the full catalog.
func pgTypeName(oid uint32) string {
	switch oid {
	case 16:
		return "bool"
	case 20, 21, 23:
		return "int"
	case 700, 701, 1700:
		return "float"
	case 25, 1043, 1042:
		return "text"
	case 17:
		return "bytea"
	case 1082:
		return "date"
	case 1114, 1184:
		return "timestamp"
	case 114, 3802:
		return "json"
	default:
		return "unknown"
	}
}
