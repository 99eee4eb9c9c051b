package sqlsafety

import (
	"context"
	"encoding/json"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v6"

	"github.com/nlsql/gateway/internal/apperrors"
)

// PostgresValidator implements DialectValidator using the real Postgres
// grammar via pg_query_go, so obfuscation tricks that only fool a regex
// (comment-wrapped keywords, stacked statements, CTE-hidden writes) are
// parsed the same way the server itself would parse them.
type PostgresValidator struct{}

func (PostgresValidator) Validate(ctx context.Context, sql string, policy Policy) (*ValidatedSQL, error) {
	result, err := pgquery.Parse(sql)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindParseError, "parse sql", err)
	}
	if len(result.Stmts) == 0 {
		return nil, apperrors.New(apperrors.KindEmptyStatement, "empty statement")
	}
	if len(result.Stmts) > 1 {
		return nil, apperrors.New(apperrors.KindMultipleStatements, "multiple statements not allowed")
	}

	raw := result.Stmts[0].Stmt
	selectStmt := raw.GetSelectStmt()
	showStmt := raw.GetVariableShowStmt()
	explainStmt := raw.GetExplainStmt()

	// capTarget is the SELECT whose LIMIT the row cap is injected into: the
	// statement itself, or the query EXPLAIN wraps. SHOW has no rows to cap.
	capTarget := selectStmt

	switch {
	case selectStmt != nil:
		if selectStmt.GetIntoClause() != nil {
			return nil, apperrors.New(apperrors.KindNotReadonly, "SELECT INTO is not a read-only query")
		}
		if len(selectStmt.GetLockingClause()) > 0 {
			return nil, apperrors.New(apperrors.KindNotReadonly, "row-locking clauses (FOR UPDATE/SHARE) are not permitted")
		}
		if err := rejectDataModifyingCTEs(selectStmt); err != nil {
			return nil, err
		}
	case showStmt != nil:
		// SHOW reports server/session settings; always read-only.
	case explainStmt != nil:
		if !policy.AllowExplain {
			return nil, apperrors.New(apperrors.KindNotReadonly, "EXPLAIN is not permitted by policy")
		}
		inner := explainStmt.GetQuery().GetSelectStmt()
		if inner == nil {
			return nil, apperrors.New(apperrors.KindNotReadonly, "EXPLAIN target must be a read-only SELECT")
		}
		if err := rejectDataModifyingCTEs(inner); err != nil {
			return nil, err
		}
		capTarget = inner
	default:
		if !policy.AllowWrite {
			return nil, apperrors.New(apperrors.KindNotReadonly, "only read-only statements are permitted")
		}
	}

	funcNames, tables, err := collectFuncNamesAndTables(sql)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindParseError, "walk parse tree", err)
	}
	for _, fn := range funcNames {
		if isBlocked(fn, policy.BlockedFunctions) {
			return nil, apperrors.New(apperrors.KindBlockedFunction, "blocked function: "+fn)
		}
	}
	if err := checkAllowedTables(tables, policy.AllowedTables); err != nil {
		return nil, err
	}

	if capTarget != nil {
		injectRowCap(capTarget, policy.RowCap)
	}

	out, err := pgquery.Deparse(result)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindParseError, "reserialize sql", err)
	}

	return &ValidatedSQL{SQL: out, TablesReferenced: tables, RowCapApplied: policy.RowCap}, nil
}

// rejectDataModifyingCTEs walks a WITH clause's CTEs for a nested INSERT,
// UPDATE or DELETE hiding behind an outer SELECT (spec §8 obfuscation case).
func rejectDataModifyingCTEs(sel *pgquery.SelectStmt) error {
	with := sel.GetWithClause()
	if with == nil {
		return nil
	}
	for _, cteNode := range with.GetCtes() {
		cte := cteNode.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		query := cte.GetCtequery()
		if query != nil && query.GetSelectStmt() == nil {
			return apperrors.New(apperrors.KindNotReadonly, "data-modifying statement inside WITH clause")
		}
		if sub := query.GetSelectStmt(); sub != nil {
			if err := rejectDataModifyingCTEs(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// injectRowCap sets LIMIT to cap when no LIMIT is present, lowers it when
// the existing one exceeds cap, and otherwise leaves an already-tighter
// LIMIT alone (spec §4.3 row-cap injection step; the executor still enforces
// the hard cap via row_cap+1 truncation as a second line of defense).
func injectRowCap(sel *pgquery.SelectStmt, cap int) {
	if cap <= 0 {
		return
	}
	existing := sel.GetLimitCount()
	if existing == nil {
		sel.LimitCount = limitConst(cap)
		return
	}
	if n, ok := intLimitValue(existing); ok && n <= cap {
		return
	}
	// Either the existing LIMIT exceeds cap, or it is not a plain integer
	// constant we can evaluate (a parameter or expression) — force it down
	// defensively rather than let an unverifiable LIMIT through.
	sel.LimitCount = limitConst(cap)
}

func limitConst(cap int) *pgquery.Node {
	return &pgquery.Node{
		Node: &pgquery.Node_AConst{
			AConst: &pgquery.A_Const{
				Val: &pgquery.A_Const_Ival{Ival: &pgquery.Integer{Ival: int32(cap)}},
			},
		},
	}
}

// intLimitValue extracts a plain integer LIMIT value, if the node is one.
func intLimitValue(node *pgquery.Node) (int, bool) {
	aconst := node.GetAConst()
	if aconst == nil {
		return 0, false
	}
	ival := aconst.GetIval()
	if ival == nil {
		return 0, false
	}
	return int(ival.GetIval()), true
}

// collectFuncNamesAndTables walks the JSON form of the parse tree looking
// for FuncCall.funcname and RangeVar.relname nodes. Walking the JSON
// representation avoids hand-enumerating every protobuf oneof variant the
// Postgres grammar can produce.
func collectFuncNamesAndTables(sql string) (funcNames, tables []string, err error) {
	raw, err := pgquery.ParseToJSON(sql)
	if err != nil {
		return nil, nil, err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, nil, err
	}

	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			if fc, ok := v["FuncCall"].(map[string]any); ok {
				if names, ok := fc["funcname"].([]any); ok {
					funcNames = append(funcNames, lastStringNode(names))
				}
			}
			if rv, ok := v["RangeVar"].(map[string]any); ok {
				if name, ok := rv["relname"].(string); ok {
					tables = append(tables, name)
				}
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(doc)
	return funcNames, tables, nil
}

// lastStringNode extracts the final String.sval in a qualified funcname
// path (e.g. pg_catalog.pg_sleep -> "pg_sleep").
func lastStringNode(nodes []any) string {
	var last string
	for _, n := range nodes {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		s, ok := m["String"].(map[string]any)
		if !ok {
			continue
		}
		if sval, ok := s["sval"].(string); ok {
			last = sval
		}
	}
	return strings.ToLower(last)
}
