package sqlsafety

import (
	"context"
	"strconv"
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/nlsql/gateway/internal/apperrors"
)

// MySQLValidator implements DialectValidator using vitess's MySQL-compatible
// parser, so the safety checks run against the same grammar MySQL itself
// accepts rather than an approximation.
type MySQLValidator struct{}

func (MySQLValidator) Validate(ctx context.Context, sql string, policy Policy) (*ValidatedSQL, error) {
	pieces, err := sqlparser.SplitStatementToPieces(sql)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindParseError, "split statement", err)
	}
	nonEmpty := 0
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil, apperrors.New(apperrors.KindEmptyStatement, "empty statement")
	}
	if nonEmpty > 1 {
		return nil, apperrors.New(apperrors.KindMultipleStatements, "multiple statements not allowed")
	}

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindParseError, "parse sql", err)
	}

	selectStmt, isSelect := stmt.(*sqlparser.Select)
	unionStmt, isUnion := stmt.(*sqlparser.Union)
	preview := sqlparser.Preview(sql)

	switch {
	case isSelect:
		if selectStmt.Lock != sqlparser.NoLock {
			return nil, apperrors.New(apperrors.KindNotReadonly, "row-locking clauses (FOR UPDATE/LOCK IN SHARE MODE) are not permitted")
		}
		if selectStmt.Into != nil {
			return nil, apperrors.New(apperrors.KindNotReadonly, "SELECT INTO is not a read-only query")
		}
	case isUnion:
		// a UNION of SELECT statements; always read-only.
	case preview == sqlparser.StmtShow:
		// SHOW reports server/session state; always read-only (spec §4.3 step 3).
	case preview == sqlparser.StmtExplain:
		if !policy.AllowExplain {
			return nil, apperrors.New(apperrors.KindNotReadonly, "EXPLAIN is not permitted by policy")
		}
	default:
		if !policy.AllowWrite {
			return nil, apperrors.New(apperrors.KindNotReadonly, "only SELECT statements are permitted")
		}
	}

	var funcNames, tables []string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.FuncExpr:
			funcNames = append(funcNames, strings.ToLower(n.Name.String()))
		case sqlparser.TableName:
			if !n.IsEmpty() {
				tables = append(tables, n.Name.String())
			}
		}
		return true, nil
	}, stmt)

	for _, fn := range funcNames {
		if isBlocked(fn, policy.BlockedFunctions) {
			return nil, apperrors.New(apperrors.KindBlockedFunction, "blocked function: "+fn)
		}
	}
	if err := checkAllowedTables(tables, policy.AllowedTables); err != nil {
		return nil, err
	}

	switch {
	case isSelect:
		injectRowCapMySQL(&selectStmt.Limit, policy.RowCap)
	case isUnion:
		injectRowCapMySQL(&unionStmt.Limit, policy.RowCap)
	}

	return &ValidatedSQL{SQL: sqlparser.String(stmt), TablesReferenced: tables, RowCapApplied: policy.RowCap}, nil
}

// injectRowCapMySQL mirrors the Postgres validator's row-cap step: a LIMIT
// is added when absent, and lowered when the existing one exceeds cap (spec
// §4.3 step 6).
func injectRowCapMySQL(limit **sqlparser.Limit, cap int) {
	if cap <= 0 {
		return
	}
	existing := *limit
	if existing == nil || existing.Rowcount == nil {
		*limit = &sqlparser.Limit{Rowcount: sqlparser.NewIntLiteral(strconv.Itoa(cap))}
		return
	}
	if n, ok := intLimitValueMySQL(existing.Rowcount); ok && n <= cap {
		return
	}
	// Either the existing LIMIT exceeds cap, or it is not a plain integer
	// literal we can evaluate (a bind variable or expression) — force it
	// down defensively rather than let an unverifiable LIMIT through.
	existing.Rowcount = sqlparser.NewIntLiteral(strconv.Itoa(cap))
}

// intLimitValueMySQL extracts a plain integer LIMIT value, if the expression
// is one.
func intLimitValueMySQL(expr sqlparser.Expr) (int, bool) {
	lit, ok := expr.(*sqlparser.Literal)
	if !ok || lit.Type != sqlparser.IntVal {
		return 0, false
	}
	n, err := strconv.Atoi(lit.Val)
	if err != nil {
		return 0, false
	}
	return n, true
}
