package dbpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/observability"
	"github.com/nlsql/gateway/internal/registry"
)

// Manager owns one Pool per registered database, lazily created on first
// acquire, dispatching to the Driver registered for the database's dialect.
// Grounded on internal/database/postgres/pool.go's lifecycle, generalized
// across dialects and database names.
type Manager struct {
	mu       sync.RWMutex
	drivers  map[registry.Dialect]Driver
	pools    map[string]Pool
	closing  map[string]bool
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewManager creates a Manager backed by the given registry.
func NewManager(reg *registry.Registry, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		drivers:  make(map[registry.Dialect]Driver),
		pools:    make(map[string]Pool),
		closing:  make(map[string]bool),
		registry: reg,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterDriver wires a dialect-specific driver into the manager.
func (m *Manager) RegisterDriver(d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.Dialect()] = d
}

// Acquire returns a checked-out connection for dbName, lazily opening the
// pool on first use. It blocks until a connection is free or ctx expires.
func (m *Manager) Acquire(ctx context.Context, dbName string) (Conn, error) {
	pool, err := m.poolFor(ctx, dbName)
	if err != nil {
		m.recordAcquire(dbName, "error")
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		m.recordAcquire(dbName, "error")
		return nil, apperrors.Wrap(apperrors.KindPoolExhausted, "acquire connection", err)
	}
	m.recordAcquire(dbName, "success")
	return conn, nil
}

func (m *Manager) recordAcquire(dbName, outcome string) {
	if m.metrics != nil {
		m.metrics.PoolAcquiresTotal.WithLabelValues(dbName, outcome).Inc()
	}
}

func (m *Manager) poolFor(ctx context.Context, dbName string) (Pool, error) {
	m.mu.RLock()
	if m.closing[dbName] {
		m.mu.RUnlock()
		return nil, apperrors.New(apperrors.KindPoolClosing, "pool is closing for "+dbName)
	}
	if p, ok := m.pools[dbName]; ok {
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	desc, ok := m.registry.Get(dbName)
	if !ok {
		return nil, apperrors.New(apperrors.KindUnknownDB, "database not registered: "+dbName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check after acquiring the write lock: another goroutine may have
	// created the pool while we were blocked.
	if p, ok := m.pools[dbName]; ok {
		return p, nil
	}
	if m.closing[dbName] {
		return nil, apperrors.New(apperrors.KindPoolClosing, "pool is closing for "+dbName)
	}

	driver, ok := m.drivers[desc.Dialect]
	if !ok {
		return nil, apperrors.New(apperrors.KindConfigError, "no driver registered for dialect "+string(desc.Dialect))
	}

	pool, err := driver.Open(ctx, desc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConnectFailed, "open pool for "+dbName, err)
	}
	m.pools[dbName] = pool
	m.logger.Info("pool opened", "db", dbName, "dialect", desc.Dialect)
	return pool, nil
}

// Stats returns the current pool stats for dbName, if its pool exists.
func (m *Manager) Stats(dbName string) (PoolStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[dbName]
	if !ok {
		return PoolStats{}, false
	}
	return p.Stats(), true
}

// ClosePool drains and removes a single database's pool, used by the
// administrative unregister operation (spec §3 DatabaseDescriptor lifecycle:
// "destroyed only by explicit unregister after its pool has been drained").
// It is a no-op if no pool was ever opened for dbName.
func (m *Manager) ClosePool(ctx context.Context, dbName string, deadline time.Duration) error {
	m.mu.Lock()
	m.closing[dbName] = true
	pool, ok := m.pools[dbName]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	closeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	err := pool.Close(closeCtx)

	m.mu.Lock()
	delete(m.pools, dbName)
	delete(m.closing, dbName)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("pool did not drain within deadline on unregister, close continues in background", "db", dbName, "error", err)
	}
	return err
}

// CloseAll implements the §4.1 shutdown procedure: mark every pool closing so
// new acquires fail fast, then drain each pool up to its share of the total
// deadline. A pool that does not close within its share is reported with
// Graceful=false; its connections are not forcibly terminated, and the
// driver's close keeps running in the background after CloseAll returns.
func (m *Manager) CloseAll(ctx context.Context, deadline time.Duration) map[string]CloseOutcome {
	m.mu.Lock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		m.closing[name] = true
		names = append(names, name)
	}
	pools := make(map[string]Pool, len(names))
	for _, name := range names {
		pools[name] = m.pools[name]
	}
	m.mu.Unlock()

	outcomes := make(map[string]CloseOutcome, len(names))
	if len(names) == 0 {
		return outcomes
	}
	perPool := deadline / time.Duration(len(names))
	if perPool <= 0 {
		perPool = deadline
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, name := range names {
		wg.Add(1)
		go func(name string, p Pool) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(context.Background(), perPool)
			defer cancel()
			err := p.Close(closeCtx)
			graceful := err == nil
			if !graceful {
				m.logger.Warn("pool did not drain within deadline, close continues in background", "db", name, "error", err)
			}
			mu.Lock()
			outcomes[name] = CloseOutcome{Graceful: graceful, Err: err}
			mu.Unlock()
		}(name, pools[name])
	}
	wg.Wait()

	m.mu.Lock()
	for _, name := range names {
		delete(m.pools, name)
	}
	m.mu.Unlock()

	return outcomes
}
