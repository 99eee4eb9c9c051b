package schema

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/dbpool"
	"github.com/nlsql/gateway/internal/observability"
	"github.com/nlsql/gateway/internal/registry"
)

// DefaultTTL is used when the config layer does not override it (spec §4.2).
const DefaultTTL = time.Hour

// Cache is the TTL, single-flight schema cache sitting in front of the
// introspectors. A miss or an expired entry triggers exactly one concurrent
// introspection per database (golang.org/x/sync/singleflight); a stale-but-
// present entry is served immediately while a refresh runs in the
// background, grounded on the teacher's database/migrations.go's
// fetch-once-then-reuse approach generalized with serve-stale semantics.
type Cache struct {
	mu            sync.RWMutex
	entries       map[string]*CachedEntry
	group         singleflight.Group
	manager       *dbpool.Manager
	registry      *registry.Registry
	introspectors map[registry.Dialect]Introspector
	ttl           time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCache builds a Cache. ttl <= 0 falls back to DefaultTTL.
func NewCache(manager *dbpool.Manager, reg *registry.Registry, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]*CachedEntry),
		manager: manager,
		registry: reg,
		introspectors: map[registry.Dialect]Introspector{
			registry.DialectPostgres: PostgresIntrospector{},
			registry.DialectMySQL:    MySQLIntrospector{},
		},
		ttl:    ttl,
		logger: logger,
		metrics: metrics,
		stopCh: make(chan struct{}),
	}
}

// Get returns the Snapshot for dbName, fetching it on first use or after
// expiry. A stale entry is returned immediately while a refresh is kicked
// off in the background, so callers holding a snapshot never block on a
// refresh. Only when no snapshot is cached do callers wait; concurrent
// callers then share one introspection (spec §4.2, Testable Property 4).
func (c *Cache) Get(ctx context.Context, dbName string) (*Snapshot, error) {
	c.mu.RLock()
	entry := c.entries[dbName]
	c.mu.RUnlock()

	now := time.Now()
	if entry != nil && !entry.stale(now) {
		return entry.Snapshot, nil
	}
	if entry != nil && entry.Snapshot != nil {
		c.refreshInBackground(dbName)
		return entry.Snapshot, nil
	}

	snap, err := c.fetch(ctx, dbName)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Invalidate forces the next Get to perform a fresh introspection.
func (c *Cache) Invalidate(dbName string) {
	c.mu.Lock()
	delete(c.entries, dbName)
	c.mu.Unlock()
}

func (c *Cache) refreshInBackground(dbName string) {
	c.mu.Lock()
	entry := c.entries[dbName]
	if entry == nil || entry.RefreshInFlight {
		c.mu.Unlock()
		return
	}
	entry.RefreshInFlight = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.fetch(ctx, dbName); err != nil {
			c.logger.Warn("background schema refresh failed", "db", dbName, "error", err)
		}
		c.mu.Lock()
		if e := c.entries[dbName]; e != nil {
			e.RefreshInFlight = false
		}
		c.mu.Unlock()
	}()
}

// fetch performs (or joins) exactly one in-flight introspection for dbName.
func (c *Cache) fetch(ctx context.Context, dbName string) (*Snapshot, error) {
	v, err, _ := c.group.Do(dbName, func() (any, error) {
		desc, ok := c.registry.Get(dbName)
		if !ok {
			return nil, apperrors.New(apperrors.KindUnknownDB, "database not registered: "+dbName)
		}
		introspector, ok := c.introspectors[desc.Dialect]
		if !ok {
			return nil, apperrors.New(apperrors.KindConfigError, "no introspector for dialect "+string(desc.Dialect))
		}

		conn, err := c.manager.Acquire(ctx, dbName)
		if err != nil {
			return nil, err
		}
		defer conn.Release()

		snap, err := introspector.Introspect(ctx, conn)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindSchemaUnavailable, "introspect "+dbName, err)
		}

		c.mu.Lock()
		c.entries[dbName] = &CachedEntry{Snapshot: snap, FetchedAt: time.Now(), TTL: c.ttl}
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.SchemaRefreshTotal.WithLabelValues(dbName).Inc()
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// StartBackgroundRefresh periodically refreshes the schema of every
// registered database that already has a cached entry, ahead of expiry, so
// steady-state requests rarely pay introspection latency. Databases never
// fetched are not introspected here.
func (c *Cache) StartBackgroundRefresh(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				for _, d := range c.registry.List() {
					c.refreshInBackground(d.Name)
				}
			}
		}
	}()
}

// Stop halts background refresh goroutines, waiting up to deadline for
// in-flight work to finish.
func (c *Cache) Stop(deadline time.Duration) {
	c.stopOnce.Do(func() { close(c.stopCh) })
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
	}
}
