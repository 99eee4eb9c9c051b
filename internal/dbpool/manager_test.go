package dbpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/dbpool"
	"github.com/nlsql/gateway/internal/registry"
)

type fakeDriver struct {
	opens int
}

func (f *fakeDriver) Dialect() registry.Dialect { return registry.DialectPostgres }

func (f *fakeDriver) Open(ctx context.Context, desc registry.Descriptor) (dbpool.Pool, error) {
	f.opens++
	return &fakePool{}, nil
}

type fakePool struct{ closed bool }

func (p *fakePool) Acquire(ctx context.Context) (dbpool.Conn, error) { return &fakeConn{}, nil }
func (p *fakePool) Stats() dbpool.PoolStats                          { return dbpool.PoolStats{TotalConns: 1} }
func (p *fakePool) Health(ctx context.Context) error                 { return nil }
func (p *fakePool) Close(ctx context.Context) error                  { p.closed = true; return nil }

type fakeConn struct{}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (dbpool.Rows, error) {
	return nil, nil
}
func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (dbpool.CommandTag, error) {
	return dbpool.CommandTag{}, nil
}
func (c *fakeConn) BeginReadOnly(ctx context.Context) (dbpool.Tx, error) { return nil, nil }
func (c *fakeConn) Release()                                            {}

func TestManager_AcquireUnknownDB(t *testing.T) {
	reg := registry.New()
	m := dbpool.NewManager(reg, nil, nil)
	m.RegisterDriver(&fakeDriver{})

	_, err := m.Acquire(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnknownDB, apperrors.KindOf(err))
}

func TestManager_AcquireLazilyOpensPoolOnce(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{Name: "blog", Dialect: registry.DialectPostgres, URI: "postgres://x", PoolMax: 5}))

	driver := &fakeDriver{}
	m := dbpool.NewManager(reg, nil, nil)
	m.RegisterDriver(driver)

	for i := 0; i < 3; i++ {
		conn, err := m.Acquire(context.Background(), "blog")
		require.NoError(t, err)
		conn.Release()
	}
	assert.Equal(t, 1, driver.opens)
}

func TestManager_CloseAllMarksPoolsClosing(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{Name: "blog", Dialect: registry.DialectPostgres, URI: "postgres://x", PoolMax: 5}))

	m := dbpool.NewManager(reg, nil, nil)
	m.RegisterDriver(&fakeDriver{})

	_, err := m.Acquire(context.Background(), "blog")
	require.NoError(t, err)

	outcomes := m.CloseAll(context.Background(), time.Second)
	require.Contains(t, outcomes, "blog")
	assert.True(t, outcomes["blog"].Graceful)

	_, err = m.Acquire(context.Background(), "blog")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPoolClosing, apperrors.KindOf(err))
}
