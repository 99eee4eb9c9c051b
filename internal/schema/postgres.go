package schema

import (
	"context"

	"github.com/nlsql/gateway/internal/dbpool"
)

// PostgresIntrospector extracts tables, views, columns and constraints from
// information_schema / pg_catalog, grounded on the query shapes used by the
// teacher's internal/infrastructure/repository/postgres_history.go.
type PostgresIntrospector struct{}

const postgresColumnsQuery = `
SELECT
  c.table_schema, c.table_name,
  CASE WHEN v.table_name IS NOT NULL THEN 'view' ELSE 'table' END AS kind,
  c.column_name, c.data_type, (c.is_nullable = 'YES') AS nullable,
  COALESCE(pk.is_pk, false) AS is_pk,
  COALESCE(uq.is_unique, false) AS is_unique,
  COALESCE(c.column_default, '') AS column_default,
  COALESCE(pgd.description, '') AS comment
FROM information_schema.columns c
LEFT JOIN information_schema.views v
  ON v.table_schema = c.table_schema AND v.table_name = c.table_name
LEFT JOIN (
  SELECT ku.table_schema, ku.table_name, ku.column_name, true AS is_pk
  FROM information_schema.table_constraints tc
  JOIN information_schema.key_column_usage ku
    ON tc.constraint_name = ku.constraint_name AND tc.table_schema = ku.table_schema
  WHERE tc.constraint_type = 'PRIMARY KEY'
) pk ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
  SELECT ku.table_schema, ku.table_name, ku.column_name, true AS is_unique
  FROM information_schema.table_constraints tc
  JOIN information_schema.key_column_usage ku
    ON tc.constraint_name = ku.constraint_name AND tc.table_schema = ku.table_schema
  WHERE tc.constraint_type = 'UNIQUE'
) uq ON uq.table_schema = c.table_schema AND uq.table_name = c.table_name AND uq.column_name = c.column_name
LEFT JOIN pg_catalog.pg_statio_all_tables st ON st.schemaname = c.table_schema AND st.relname = c.table_name
LEFT JOIN pg_catalog.pg_description pgd ON pgd.objoid = st.relid AND pgd.objsubid = 0
WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY c.table_schema, c.table_name, c.ordinal_position
`

func (PostgresIntrospector) Introspect(ctx context.Context, conn dbpool.Conn) (*Snapshot, error) {
	rows, err := conn.Query(ctx, postgresColumnsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scanned []scanColumn
	for rows.Next() {
		var r scanColumn
		var kind string
		if err := rows.Scan(&r.schema, &r.table, &kind, &r.name, &r.dataType, &r.nullable, &r.primaryKey, &r.unique, &r.defaultVal, &r.comment); err != nil {
			return nil, err
		}
		r.kind = TableKind(kind)
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := buildSnapshot(scanned, `"`)
	attachPostgresRowCounts(ctx, conn, snap)
	return snap, nil
}

// attachPostgresRowCounts best-effort-populates RowCount from pg_class's
// planner estimate (reltuples). A failure here never fails the snapshot.
func attachPostgresRowCounts(ctx context.Context, conn dbpool.Conn, snap *Snapshot) {
	rows, err := conn.Query(ctx, `
		SELECT n.nspname, c.relname, c.reltuples::bigint
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r','v') AND c.reltuples >= 0
	`)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := make(map[[2]string]int64)
	for rows.Next() {
		var schemaName, tableName string
		var count int64
		if err := rows.Scan(&schemaName, &tableName, &count); err != nil {
			continue
		}
		counts[[2]string{schemaName, tableName}] = count
	}

	for si := range snap.Schemas {
		for ti := range snap.Schemas[si].Tables {
			key := [2]string{snap.Schemas[si].Name, snap.Schemas[si].Tables[ti].Name}
			if c, ok := counts[key]; ok {
				v := c
				snap.Schemas[si].Tables[ti].RowCount = &v
			}
		}
	}
}
