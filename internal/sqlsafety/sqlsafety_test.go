package sqlsafety_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/sqlsafety"
)

func defaultPolicy() sqlsafety.Policy {
	return sqlsafety.Policy{
		RowCap:           100,
		BlockedFunctions: []string{"pg_sleep", "sleep", "load_file", "into_outfile"},
	}
}

func TestValidate_Postgres_AllowsPlainSelect(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT id, name FROM users WHERE id = 1", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "SELECT")
	assert.Contains(t, out.TablesReferenced, "users")
}

func TestValidate_Postgres_RejectsWriteStatement(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "DELETE FROM users WHERE id = 1", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotReadonly, apperrors.KindOf(err))
}

func TestValidate_Postgres_RejectsStackedStatements(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT 1; DROP TABLE users;", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindMultipleStatements, apperrors.KindOf(err))
}

func TestValidate_Postgres_RejectsBlockedFunction(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT pg_sleep(5)", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBlockedFunction, apperrors.KindOf(err))
}

func TestValidate_Postgres_RejectsForUpdate(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT * FROM users FOR UPDATE", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotReadonly, apperrors.KindOf(err))
}

func TestValidate_Postgres_RejectsDataModifyingCTE(t *testing.T) {
	sql := "WITH deleted AS (DELETE FROM users WHERE id = 1 RETURNING id) SELECT * FROM deleted"
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, sql, defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotReadonly, apperrors.KindOf(err))
}

func TestValidate_Postgres_RejectsDisallowedTable(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowedTables = []string{"orders"}
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT * FROM users", policy)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDisallowedIdentifier, apperrors.KindOf(err))
}

func TestValidate_Postgres_InjectsRowCap(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT * FROM users", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "LIMIT")
}

func TestValidate_MySQL_AllowsPlainSelect(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "SELECT id, name FROM users WHERE id = 1", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.TablesReferenced, "users")
}

func TestValidate_MySQL_RejectsWriteStatement(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "UPDATE users SET name = 'x'", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotReadonly, apperrors.KindOf(err))
}

func TestValidate_MySQL_RejectsStackedStatements(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "SELECT 1; SELECT 2;", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindMultipleStatements, apperrors.KindOf(err))
}

func TestValidate_MySQL_RejectsBlockedFunction(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "SELECT sleep(5)", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBlockedFunction, apperrors.KindOf(err))
}

func TestValidate_MySQL_InjectsRowCap(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "SELECT * FROM users", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "limit")
}

func TestValidate_Postgres_LowersOverCapLimit(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT * FROM users LIMIT 5000", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "LIMIT 100")
	assert.NotContains(t, out.SQL, "LIMIT 5000")
}

func TestValidate_Postgres_KeepsTighterLimit(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SELECT * FROM users LIMIT 10", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "LIMIT 10")
}

func TestValidate_Postgres_RejectsExplainByDefault(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "EXPLAIN SELECT * FROM users", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotReadonly, apperrors.KindOf(err))
}

func TestValidate_Postgres_AllowsExplainWhenPolicyPermits(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowExplain = true
	out, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "EXPLAIN SELECT * FROM users", policy)
	require.NoError(t, err)
	assert.Contains(t, out.TablesReferenced, "users")
}

func TestValidate_Postgres_AllowsShow(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectPostgres, "SHOW search_path", defaultPolicy())
	require.NoError(t, err)
}

func TestValidate_MySQL_LowersOverCapLimit(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "SELECT * FROM users LIMIT 5000", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "limit 100")
	assert.NotContains(t, out.SQL, "limit 5000")
}

func TestValidate_MySQL_AllowsUnion(t *testing.T) {
	out, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "SELECT id FROM users UNION SELECT id FROM archived_users", defaultPolicy())
	require.NoError(t, err)
	assert.Contains(t, out.TablesReferenced, "archived_users")
}

func TestValidate_MySQL_RejectsExplainByDefault(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "EXPLAIN SELECT * FROM users", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotReadonly, apperrors.KindOf(err))
}

func TestValidate_MySQL_AllowsExplainWhenPolicyPermits(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowExplain = true
	_, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "EXPLAIN SELECT * FROM users", policy)
	require.NoError(t, err)
}

func TestValidate_MySQL_AllowsShow(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.DialectMySQL, "SHOW TABLES", defaultPolicy())
	require.NoError(t, err)
}

func TestValidate_UnsupportedDialect(t *testing.T) {
	_, err := sqlsafety.Validate(context.Background(), registry.Dialect("oracle"), "SELECT 1", defaultPolicy())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConfigError, apperrors.KindOf(err))
}
