package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSnapshot_OrdersSchemasAndTablesAlphabetically(t *testing.T) {
	rows := []scanColumn{
		{schema: "public", table: "zebra", kind: KindTable, name: "id", dataType: "int"},
		{schema: "public", table: "apple", kind: KindTable, name: "id", dataType: "int"},
		{schema: "analytics", table: "events", kind: KindTable, name: "id", dataType: "int"},
	}

	snap := buildSnapshot(rows, `"`)

	require.Len(t, snap.Schemas, 2)
	assert.Equal(t, "analytics", snap.Schemas[0].Name)
	assert.Equal(t, "public", snap.Schemas[1].Name)

	require.Len(t, snap.Schemas[1].Tables, 2)
	assert.Equal(t, "apple", snap.Schemas[1].Tables[0].Name)
	assert.Equal(t, "zebra", snap.Schemas[1].Tables[1].Name)
}

func TestBuildSnapshot_PreservesColumnOrdinalOrder(t *testing.T) {
	rows := []scanColumn{
		{schema: "public", table: "users", kind: KindTable, name: "id", dataType: "int", primaryKey: true},
		{schema: "public", table: "users", kind: KindTable, name: "email", dataType: "text"},
		{schema: "public", table: "users", kind: KindTable, name: "created_at", dataType: "timestamp"},
	}

	snap := buildSnapshot(rows, `"`)

	require.Len(t, snap.Schemas, 1)
	require.Len(t, snap.Schemas[0].Tables, 1)
	cols := snap.Schemas[0].Tables[0].Columns
	require.Len(t, cols, 3)
	assert.Equal(t, []string{"id", "email", "created_at"}, []string{cols[0].Name, cols[1].Name, cols[2].Name})
	assert.True(t, cols[0].PrimaryKey)
}

func TestBuildSnapshot_MarksViews(t *testing.T) {
	rows := []scanColumn{
		{schema: "public", table: "active_users", kind: KindView, name: "id", dataType: "int"},
	}

	snap := buildSnapshot(rows, `"`)

	require.Len(t, snap.Schemas[0].Tables, 1)
	assert.Equal(t, KindView, snap.Schemas[0].Tables[0].Kind)
}
