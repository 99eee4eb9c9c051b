package schema

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql/gateway/internal/dbpool"
	"github.com/nlsql/gateway/internal/registry"
)

// fakeRows yields scanColumn-shaped rows for the postgres columns query, and
// nothing for the row-count follow-up query, so introspection completes
// without a real database.
type fakeRows struct {
	rows []scanColumn
	i    int
}

func (r *fakeRows) Next() bool { return r.i < len(r.rows) }
func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i]
	r.i++
	*dest[0].(*string) = row.schema
	*dest[1].(*string) = row.table
	*dest[2].(*string) = string(row.kind)
	*dest[3].(*string) = row.name
	*dest[4].(*string) = row.dataType
	*dest[5].(*bool) = row.nullable
	*dest[6].(*bool) = row.primaryKey
	*dest[7].(*bool) = row.unique
	*dest[8].(*string) = row.defaultVal
	*dest[9].(*string) = row.comment
	return nil
}
func (r *fakeRows) Columns() ([]dbpool.Column, error) { return nil, nil }
func (r *fakeRows) Close()                            {}
func (r *fakeRows) Err() error                         { return nil }

type emptyRows struct{}

func (emptyRows) Next() bool                       { return false }
func (emptyRows) Scan(dest ...any) error           { return nil }
func (emptyRows) Columns() ([]dbpool.Column, error) { return nil, nil }
func (emptyRows) Close()                           {}
func (emptyRows) Err() error                       { return nil }

type introspectCountingConn struct {
	calls *int32
}

func (c *introspectCountingConn) Query(ctx context.Context, sql string, args ...any) (dbpool.Rows, error) {
	n := atomic.AddInt32(c.calls, 1)
	if n%2 == 1 {
		return &fakeRows{rows: []scanColumn{
			{schema: "public", table: "users", kind: KindTable, name: "id", dataType: "int", primaryKey: true},
		}}, nil
	}
	return emptyRows{}, nil
}
func (c *introspectCountingConn) Exec(ctx context.Context, sql string, args ...any) (dbpool.CommandTag, error) {
	return dbpool.CommandTag{}, nil
}
func (c *introspectCountingConn) BeginReadOnly(ctx context.Context) (dbpool.Tx, error) { return nil, nil }
func (c *introspectCountingConn) Release()                                            {}

type countingPool struct {
	calls *int32
}

func (p *countingPool) Acquire(ctx context.Context) (dbpool.Conn, error) {
	return &introspectCountingConn{calls: p.calls}, nil
}
func (p *countingPool) Stats() dbpool.PoolStats  { return dbpool.PoolStats{} }
func (p *countingPool) Health(ctx context.Context) error { return nil }
func (p *countingPool) Close(ctx context.Context) error  { return nil }

type countingDriver struct {
	pool *countingPool
}

func (d *countingDriver) Dialect() registry.Dialect { return registry.DialectPostgres }
func (d *countingDriver) Open(ctx context.Context, desc registry.Descriptor) (dbpool.Pool, error) {
	return d.pool, nil
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *int32) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "blog", Dialect: registry.DialectPostgres, URI: "postgres://x", PoolMax: 5,
	}))

	var calls int32
	manager := dbpool.NewManager(reg, nil, nil)
	manager.RegisterDriver(&countingDriver{pool: &countingPool{calls: &calls}})

	return NewCache(manager, reg, ttl, nil, nil), &calls
}

func TestCache_Get_IntrospectsOnFirstUse(t *testing.T) {
	cache, queries := newTestCache(t, time.Hour)

	snap, err := cache.Get(context.Background(), "blog")
	require.NoError(t, err)
	require.Len(t, snap.Schemas, 1)
	assert.Equal(t, "users", snap.Schemas[0].Tables[0].Name)
	assert.Equal(t, int32(2), *queries) // columns query + row-count query
}

func TestCache_Get_ServesCachedEntryWithoutRefetch(t *testing.T) {
	cache, queries := newTestCache(t, time.Hour)

	_, err := cache.Get(context.Background(), "blog")
	require.NoError(t, err)
	before := *queries

	_, err = cache.Get(context.Background(), "blog")
	require.NoError(t, err)
	assert.Equal(t, before, *queries)
}

func TestCache_Get_CoalescesConcurrentMisses(t *testing.T) {
	cache, queries := newTestCache(t, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "blog")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), *queries)
}

func TestCache_Get_ServesStaleWhileRevalidating(t *testing.T) {
	cache, _ := newTestCache(t, time.Millisecond)

	snap, err := cache.Get(context.Background(), "blog")
	require.NoError(t, err)
	require.NotNil(t, snap)

	time.Sleep(5 * time.Millisecond)

	// Entry is now stale; Get must return immediately (the old snapshot)
	// rather than block on a fresh introspection.
	start := time.Now()
	snap2, err := cache.Get(context.Background(), "blog")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, snap.Schemas[0].Name, snap2.Schemas[0].Name)

	cache.Stop(time.Second)
}

func TestCache_Invalidate_ForcesRefetch(t *testing.T) {
	cache, queries := newTestCache(t, time.Hour)

	_, err := cache.Get(context.Background(), "blog")
	require.NoError(t, err)
	before := *queries

	cache.Invalidate("blog")

	_, err = cache.Get(context.Background(), "blog")
	require.NoError(t, err)
	assert.Greater(t, *queries, before)
}

func TestCache_Get_UnknownDatabase(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)

	_, err := cache.Get(context.Background(), "missing")
	require.Error(t, err)
}
