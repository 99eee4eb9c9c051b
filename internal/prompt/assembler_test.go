package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/schema"
)

func smallSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		QuoteStyle: `"`,
		Schemas: []schema.Schema{
			{
				Name: "public",
				Tables: []schema.Table{
					{Name: "users", Kind: schema.KindTable, Columns: []schema.Column{
						{Name: "id", Type: "int", PrimaryKey: true},
						{Name: "email", Type: "text"},
					}},
					{Name: "orders", Kind: schema.KindTable, Columns: []schema.Column{
						{Name: "id", Type: "int", PrimaryKey: true},
						{Name: "user_id", Type: "int"},
						{Name: "total", Type: "numeric"},
					}},
				},
			},
		},
	}
}

func TestBuild_IncludesAllTablesUnderBudget(t *testing.T) {
	a := NewAssembler(1000)
	out := a.Build("shop", "how many orders per user?", smallSnapshot(), registry.DialectPostgres, "")

	assert.Contains(t, out, "users")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "how many orders per user?")
}

func TestBuild_IncludesRemediationHint(t *testing.T) {
	a := NewAssembler(1000)
	out := a.Build("shop", "how many orders?", smallSnapshot(), registry.DialectPostgres, "column \"total2\" does not exist")

	assert.Contains(t, out, "previous attempt failed")
	assert.Contains(t, out, "total2")
}

func TestBuild_TrimsToRelevantTablesWhenOverBudget(t *testing.T) {
	a := NewAssembler(2) // tiny budget forces ranking
	out := a.Build("shop", "list all users and their email", smallSnapshot(), registry.DialectPostgres, "")

	require.True(t, strings.Contains(out, "users"))
}
