package executor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/dbpool"
	"github.com/nlsql/gateway/internal/observability"
	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/sqlsafety"
)

// Executor runs a ValidatedSQL statement against a registered database and
// returns a canonical QueryResult, grounded on the teacher's
// internal/database/postgres/pool.go Query/Exec pattern generalized across
// dialects via dbpool.
type Executor struct {
	manager *dbpool.Manager
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExecutor builds an Executor backed by manager.
func NewExecutor(manager *dbpool.Manager, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{manager: manager, logger: logger, metrics: metrics}
}

// Execute implements the seven-step procedure in spec §4.6.
func (e *Executor) Execute(ctx context.Context, dialect registry.Dialect, dbName string, stmt *sqlsafety.ValidatedSQL, rowCap int, deadline time.Duration) (*QueryResult, error) {
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	conn, err := e.manager.Acquire(execCtx, dbName)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.BeginReadOnly(execCtx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDBError, "begin read-only transaction", err)
	}

	result, err := e.runAndFetch(execCtx, tx, stmt.SQL, dialect, rowCap)
	if err != nil {
		_ = tx.Rollback(execCtx)
		return nil, err
	}

	if err := tx.Commit(execCtx); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDBError, "commit read-only transaction", err)
	}

	result.ExecuteMS = time.Since(start).Milliseconds()
	return result, nil
}

// runAndFetch executes the statement and pulls up to rowCap+1 rows to detect
// truncation without materializing more than the cap in the response.
func (e *Executor) runAndFetch(ctx context.Context, tx dbpool.Tx, sql string, dialect registry.Dialect, rowCap int) (*QueryResult, error) {
	rows, err := tx.Query(ctx, sql)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.KindTimeout, "statement timed out", ctx.Err())
		}
		return nil, apperrors.Wrap(apperrors.KindDBError, "execute statement", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDBError, "read columns", err)
	}
	columns := make([]ColumnInfo, len(cols))
	for i, c := range cols {
		columns[i] = ColumnInfo{Name: c.Name, Type: mapTypeTag(dialect, c.DBType)}
	}

	var out [][]any
	truncated := false
	for rows.Next() {
		dest := make([]any, len(cols))
		destPtrs := make([]any, len(cols))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}
		if err := rows.Scan(destPtrs...); err != nil {
			return nil, apperrors.Wrap(apperrors.KindDBError, "scan row", err)
		}
		out = append(out, dest)
		// spec §4.6 step 4: stop the instant the (rowCap+1)-th row arrives.
		if len(out) > rowCap {
			truncated = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.KindTimeout, "statement timed out", ctx.Err())
		}
		return nil, apperrors.Wrap(apperrors.KindDBError, "iterate rows", err)
	}

	if truncated {
		out = out[:rowCap]
	}

	return &QueryResult{Columns: columns, Rows: out, Truncated: truncated, RowCount: len(out)}, nil
}

// mapTypeTag maps a driver-native type name to a canonical tag (spec §4.6
// step 7). Postgres OID names come from dbpool/postgres's pgTypeName;
// MySQL names come from database/sql's DatabaseTypeName.
func mapTypeTag(dialect registry.Dialect, dbType string) TypeTag {
	switch dialect {
	case registry.DialectPostgres:
		return mapPostgresTag(dbType)
	case registry.DialectMySQL:
		return mapMySQLTag(dbType)
	default:
		return TagUnknown
	}
}

func mapPostgresTag(dbType string) TypeTag {
	switch dbType {
	case "bool":
		return TagBool
	case "int":
		return TagInt
	case "float":
		return TagFloat
	case "text":
		return TagText
	case "bytea":
		return TagBytes
	case "date":
		return TagDate
	case "timestamp":
		return TagTimestamp
	case "json":
		return TagJSON
	default:
		return TagUnknown
	}
}

func mapMySQLTag(dbType string) TypeTag {
	switch strings.ToUpper(dbType) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		return TagInt
	case "FLOAT", "DOUBLE", "DECIMAL", "NUMERIC":
		return TagFloat
	case "BOOL", "BOOLEAN":
		return TagBool
	case "VARCHAR", "CHAR", "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM", "SET":
		return TagText
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY":
		return TagBytes
	case "DATE":
		return TagDate
	case "DATETIME", "TIMESTAMP":
		return TagTimestamp
	case "JSON":
		return TagJSON
	default:
		return TagUnknown
	}
}
