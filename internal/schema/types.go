// Package schema implements the schema introspector (C4) and the TTL,
// single-flight schema cache (C5).
package schema

import "time"

// Column describes one table column in the canonical, driver-independent
// schema tree (spec §3 SchemaSnapshot).
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	Unique     bool   `json:"unique"`
	Default    string `json:"default,omitempty"`
}

// TableKind distinguishes base tables from views.
type TableKind string

const (
	KindTable TableKind = "table"
	KindView  TableKind = "view"
)

// Table is one relation within a schema.
type Table struct {
	Name     string    `json:"name"`
	Kind     TableKind `json:"kind"`
	Columns  []Column  `json:"columns"`
	RowCount *int64    `json:"row_count,omitempty"`
	Comment  string    `json:"comment,omitempty"`
}

// Schema is a named namespace containing tables/views, ordered alphabetically
// by table name within it (spec §4.2 ordering rule).
type Schema struct {
	Name   string  `json:"name"`
	Tables []Table `json:"tables"`
}

// Snapshot is the canonical, value-typed, immutable schema tree produced by
// an introspection pass. A fresh Snapshot always replaces the old one
// atomically in the cache; it is never mutated after construction.
type Snapshot struct {
	Schemas    []Schema `json:"schemas"`
	QuoteStyle string   `json:"quote_style"` // e.g. `"` for postgres, "`" for mysql
}

// CachedEntry pairs a Snapshot with its cache bookkeeping (spec §3
// CachedSchema).
type CachedEntry struct {
	Snapshot        *Snapshot
	FetchedAt       time.Time
	TTL             time.Duration
	RefreshInFlight bool
}

func (e *CachedEntry) stale(now time.Time) bool {
	return e == nil || e.Snapshot == nil || now.After(e.FetchedAt.Add(e.TTL))
}
