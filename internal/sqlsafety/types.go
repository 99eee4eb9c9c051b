// Package sqlsafety implements the SQL safety validator (C6): it parses a
// candidate statement with a real dialect grammar, rejects anything that
// is not a single read-only query, rejects statements that call blocked
// functions or reference disallowed tables, injects a row cap, and reserializes the statement so the
// executor only ever runs SQL the validator itself produced.
package sqlsafety

import (
	"context"

	"github.com/nlsql/gateway/internal/registry"
)

// Policy is the per-database enforcement configuration the validator checks
// a statement against (derived from registry.Descriptor and the process
// security config).
type Policy struct {
	AllowWrite       bool
	BlockedFunctions []string
	RowCap           int
	AllowedTables    []string // empty means no table allowlist is enforced
	AllowExplain     bool     // spec §4.3 step 3: permits EXPLAIN alongside SELECT/SHOW
}

// ValidatedSQL is the validator's output: a reserialized statement that is
// safe to hand to the executor unmodified (spec §3 ValidatedSQL).
type ValidatedSQL struct {
	SQL              string
	TablesReferenced []string
	RowCapApplied    int
}

// DialectValidator implements the seven-step validation procedure (spec
// §4.3) for one SQL dialect.
type DialectValidator interface {
	Validate(ctx context.Context, sql string, policy Policy) (*ValidatedSQL, error)
}

// ByDialect maps each supported dialect to its validator implementation.
func ByDialect() map[registry.Dialect]DialectValidator {
	return map[registry.Dialect]DialectValidator{
		registry.DialectPostgres: PostgresValidator{},
		registry.DialectMySQL:    MySQLValidator{},
	}
}

// Validate dispatches to the validator registered for dialect.
func Validate(ctx context.Context, dialect registry.Dialect, sql string, policy Policy) (*ValidatedSQL, error) {
	v, ok := ByDialect()[dialect]
	if !ok {
		return nil, unsupportedDialectError(dialect)
	}
	return v.Validate(ctx, sql, policy)
}
