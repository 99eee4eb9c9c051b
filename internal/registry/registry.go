// Package registry holds named database descriptors and the dialect tag
// used to dispatch to the right pool driver, schema introspector and SQL
// safety validator.
package registry

import (
	"fmt"
	"sync"
	"time"
)

// Dialect identifies the SQL variant a registered database speaks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Descriptor is immutable once registered (spec §3 DatabaseDescriptor).
type Descriptor struct {
	Name              string
	Dialect           Dialect
	URI               string
	PoolMin           int32
	PoolMax           int32
	StatementTimeout  time.Duration
	RowCap            int
	AllowedTables     []string
	ConnectTimeout    time.Duration
}

// Registry is the process-wide, in-memory set of registered databases. It is
// safe for concurrent use. Descriptors are destroyed only by explicit
// Unregister, after which the pool manager is expected to have drained the
// corresponding pool.
type Registry struct {
	mu   sync.RWMutex
	dbs  map[string]Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{dbs: make(map[string]Descriptor)}
}

// Register adds a descriptor. Re-registering an existing name replaces it;
// callers that need draining semantics must Unregister explicitly first.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("registry: database name must not be empty")
	}
	if d.Dialect != DialectPostgres && d.Dialect != DialectMySQL {
		return fmt.Errorf("registry: unsupported dialect %q", d.Dialect)
	}
	if d.PoolMin < 0 || d.PoolMax <= 0 || d.PoolMin > d.PoolMax {
		return fmt.Errorf("registry: invalid pool sizing min=%d max=%d", d.PoolMin, d.PoolMax)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbs[d.Name] = d
	return nil
}

// Unregister removes a descriptor. It is the caller's responsibility to have
// drained the associated pool beforehand.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dbs, name)
}

// Get looks up a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dbs[name]
	return d, ok
}

// List returns all registered descriptors, sorted by name is not guaranteed;
// callers that need stable order should sort themselves.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.dbs))
	for _, d := range r.dbs {
		out = append(out, d)
	}
	return out
}
