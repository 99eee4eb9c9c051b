package schema

import (
	"context"

	"github.com/nlsql/gateway/internal/dbpool"
)

// MySQLIntrospector extracts tables, views and columns from MySQL's
// information_schema.
type MySQLIntrospector struct{}

const mysqlColumnsQuery = `
SELECT
  c.TABLE_SCHEMA, c.TABLE_NAME,
  CASE WHEN t.TABLE_TYPE = 'VIEW' THEN 'view' ELSE 'table' END AS kind,
  c.COLUMN_NAME, c.DATA_TYPE, (c.IS_NULLABLE = 'YES') AS nullable,
  (c.COLUMN_KEY = 'PRI') AS is_pk,
  (c.COLUMN_KEY IN ('PRI', 'UNI')) AS is_unique,
  COALESCE(c.COLUMN_DEFAULT, ''),
  COALESCE(c.COLUMN_COMMENT, '')
FROM information_schema.COLUMNS c
JOIN information_schema.TABLES t
  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
WHERE c.TABLE_SCHEMA = DATABASE()
ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION
`

func (MySQLIntrospector) Introspect(ctx context.Context, conn dbpool.Conn) (*Snapshot, error) {
	rows, err := conn.Query(ctx, mysqlColumnsQuery)
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

	snap := buildSnapshot(scanned, "`")
	attachMySQLRowCounts(ctx, conn, snap)
	return snap, nil
}

// attachMySQLRowCounts best-effort-populates RowCount from
// information_schema.TABLES.TABLE_ROWS, an InnoDB estimate. A failure here
// never fails the whole snapshot.
func attachMySQLRowCounts(ctx context.Context, conn dbpool.Conn, snap *Snapshot) {
	rows, err := conn.Query(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_ROWS
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_ROWS IS NOT NULL
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
