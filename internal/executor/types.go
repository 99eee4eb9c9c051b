// Package executor implements the executor (C9): it runs a validated,
// already-safe statement inside a read-only transaction, enforces the row
// cap with a truncation probe, and maps driver-native column types onto the
// canonical type tags the response layer serializes.
package executor

// TypeTag is one of the canonical, driver-independent column type tags
// (spec §4.6 step 7).
type TypeTag string

const (
	TagInt       TypeTag = "int"
	TagFloat     TypeTag = "float"
	TagBool      TypeTag = "bool"
	TagText      TypeTag = "text"
	TagBytes     TypeTag = "bytes"
	TagTimestamp TypeTag = "timestamp"
	TagDate      TypeTag = "date"
	TagJSON      TypeTag = "json"
	TagNull      TypeTag = "null"
	TagUnknown   TypeTag = "unknown"
)

// ColumnInfo describes one result column in canonical form.
type ColumnInfo struct {
	Name string  `json:"name"`
	Type TypeTag `json:"type"`
}

// QueryResult is the executor's output (spec §3).
type QueryResult struct {
	Columns   []ColumnInfo `json:"columns"`
	Rows      [][]any      `json:"rows"`
	Truncated bool         `json:"truncated"`
	RowCount  int          `json:"row_count"`
	ExecuteMS int64        `json:"execute_ms"`
}
