package schema

import (
	"context"
	"sort"

	"github.com/nlsql/gateway/internal/dbpool"
)

// Introspector pulls a canonical Snapshot from a live database connection.
// Row counts are best-effort: a single failed count must not fail the whole
// snapshot, per spec §4.2.
type Introspector interface {
	Introspect(ctx context.Context, conn dbpool.Conn) (*Snapshot, error)
}

// scanColumn is the shared shape returned by both dialects' catalog queries
// before being grouped into tables.
type scanColumn struct {
	schema     string
	table      string
	kind       TableKind
	name       string
	dataType   string
	nullable   bool
	primaryKey bool
	unique     bool
	defaultVal string
	comment    string
}

// buildSnapshot groups flat catalog rows into the canonical tree, sorting
// schemas alphabetically, tables alphabetically within schema, and
// preserving the catalog's column ordinal-position order (spec §4.2).
func buildSnapshot(rows []scanColumn, quoteStyle string) *Snapshot {
	type tableKey struct{ schema, table string }
	order := make([]tableKey, 0)
	seen := make(map[tableKey]bool)
	tables := make(map[tableKey]*Table)
	kinds := make(map[tableKey]TableKind)
	comments := make(map[tableKey]string)

	for _, r := range rows {
		k := tableKey{r.schema, r.table}
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
			tables[k] = &Table{Name: r.table, Kind: r.kind}
			kinds[k] = r.kind
			comments[k] = r.comment
		}
		tables[k].Columns = append(tables[k].Columns, Column{
			Name:       r.name,
			Type:       r.dataType,
			Nullable:   r.nullable,
			PrimaryKey: r.primaryKey,
			Unique:     r.unique,
			Default:    r.defaultVal,
		})
	}

	bySchema := make(map[string][]*Table)
	for _, k := range order {
		t := tables[k]
		t.Comment = comments[k]
		bySchema[k.schema] = append(bySchema[k.schema], t)
	}

	schemaNames := make([]string, 0, len(bySchema))
	for s := range bySchema {
		schemaNames = append(schemaNames, s)
	}
	sort.Strings(schemaNames)

	snap := &Snapshot{QuoteStyle: quoteStyle}
	for _, s := range schemaNames {
		ts := bySchema[s]
		sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
		flat := make([]Table, len(ts))
		for i, t := range ts {
			flat[i] = *t
		}
		snap.Schemas = append(snap.Schemas, Schema{Name: s, Tables: flat})
	}
	return snap
}
