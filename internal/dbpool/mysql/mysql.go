// Package mysql implements dbpool.Driver for MySQL using database/sql over
// github.com/go-sql-driver/mysql, built in the same shape as the postgres
// driver so both satisfy the shared dbpool contract.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/nlsql/gateway/internal/dbpool"
	"github.com/nlsql/gateway/internal/registry"
)

// Driver implements dbpool.Driver for MySQL.
type Driver struct{}

func (Driver) Dialect() registry.Dialect { return registry.DialectMySQL }

func (Driver) Open(ctx context.Context, desc registry.Descriptor) (dbpool.Pool, error) {
	db, err := sql.Open("mysql", desc.URI)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if desc.PoolMax > 0 {
		db.SetMaxOpenConns(int(desc.PoolMax))
	}
	if desc.PoolMin > 0 {
		db.SetMaxIdleConns(int(desc.PoolMin))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Pool{db: db}, nil
}

// Pool wraps *sql.DB behind dbpool.Pool.
type Pool struct {
	db *sql.DB
}

func (p *Pool) Acquire(ctx context.Context) (dbpool.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

func (p *Pool) Stats() dbpool.PoolStats {
	s := p.db.Stats()
	return dbpool.PoolStats{
		TotalConns:    int32(s.OpenConnections),
		AcquiredConns: int32(s.InUse),
		IdleConns:     int32(s.Idle),
	}
}

func (p *Pool) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Pool) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.db.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conn wraps *sql.Conn behind dbpool.Conn.
type Conn struct {
	conn *sql.Conn
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (dbpool.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (dbpool.CommandTag, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return dbpool.CommandTag{}, err
	}
	n, _ := res.RowsAffected()
	return dbpool.CommandTag{RowsAffected: n}, nil
}

func (c *Conn) BeginReadOnly(ctx context.Context) (dbpool.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Release() {
	c.conn.Close()
}

// Tx wraps *sql.Tx behind dbpool.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (dbpool.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// Rows wraps *sql.Rows behind dbpool.Rows.
type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool             { return r.rows.Next() }
func (r *Rows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *Rows) Close()                 { r.rows.Close() }
func (r *Rows) Err() error             { return r.rows.Err() }

func (r *Rows) Columns() ([]dbpool.Column, error) {
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]dbpool.Column, len(types))
	for i, t := range types {
		cols[i] = dbpool.Column{Name: t.Name(), DBType: t.DatabaseTypeName()}
	}
	return cols, nil
}
