// Package prompt builds the natural-language-to-SQL prompt handed to the LLM
// client (C7): it renders a trimmed schema description, the dialect, the
// user's question and an optional remediation hint into the single prompt
// string the teacher's LLM client already knows how to send (grounded on
// internal/infrastructure/llm/client.go's ClassificationRequest.Prompt).
package prompt

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/schema"
)

// defaultColumnBudget is the column-count budget under which every
// table in the snapshot is described in full; above it the assembler falls
// back to a ranked subset (spec §4.4 schema-trimming heuristic).
const defaultColumnBudget = 400

// Assembler renders prompts from a schema snapshot and a question.
type Assembler struct {
	columnBudget int
	rankCache    *lru.Cache[string, []rankedTable]
}

// rankedTable is a precomputed lexical index for one table, cached per
// database so re-ranking a new question against the same schema doesn't
// re-tokenize every column name.
type rankedTable struct {
	table  schema.Table
	schema string
	tokens map[string]bool
}

// NewAssembler builds an Assembler. columnBudget <= 0 uses the default.
func NewAssembler(columnBudget int) *Assembler {
	if columnBudget <= 0 {
		columnBudget = defaultColumnBudget
	}
	cache, _ := lru.New[string, []rankedTable](64)
	return &Assembler{columnBudget: columnBudget, rankCache: cache}
}

// Build renders the full prompt string for one query request. hint carries
// the remediation message from a prior failed attempt, if any (spec §4.7
// remediation cycle); it is empty on the first attempt.
func (a *Assembler) Build(dbName, question string, snap *schema.Snapshot, dialect registry.Dialect, hint string) string {
	tables := a.rankedTablesFor(dbName, snap)
	selected := a.selectTables(tables, question)

	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s SQL generator. Given a database schema and a question in natural language, produce a single read-only SQL statement that answers it.\n\n", dialect)
	b.WriteString("Schema:\n")
	for _, rt := range selected {
		writeTable(&b, rt.schema, rt.table)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	if hint != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed: %s\nProduce a corrected statement.\n", hint)
	}
	b.WriteString("\nRespond with SQL only, no explanation, no markdown fences.\n")
	return b.String()
}

func writeTable(b *strings.Builder, schemaName string, t schema.Table) {
	fmt.Fprintf(b, "- %s.%s (%s)", schemaName, t.Name, t.Kind)
	if t.RowCount != nil {
		fmt.Fprintf(b, " ~%d rows", *t.RowCount)
	}
	b.WriteString("\n")
	for _, c := range t.Columns {
		flags := ""
		if c.PrimaryKey {
			flags += " PK"
		}
		if !c.Nullable {
			flags += " NOT NULL"
		}
		fmt.Fprintf(b, "    %s %s%s\n", c.Name, c.Type, flags)
	}
}

// rankedTablesFor returns the tokenized table index for dbName, computing
// and caching it on first use per snapshot generation.
func (a *Assembler) rankedTablesFor(dbName string, snap *schema.Snapshot) []rankedTable {
	cacheKey := dbName
	if cached, ok := a.rankCache.Get(cacheKey); ok && sameSnapshot(cached, snap) {
		return cached
	}

	var out []rankedTable
	for _, s := range snap.Schemas {
		for _, t := range s.Tables {
			out = append(out, rankedTable{table: t, schema: s.Name, tokens: tableTokens(s.Name, t)})
		}
	}
	a.rankCache.Add(cacheKey, out)
	return out
}

// sameSnapshot is a cheap generation check: if the table counts diverge the
// cached index is stale and must be rebuilt.
func sameSnapshot(cached []rankedTable, snap *schema.Snapshot) bool {
	total := 0
	for _, s := range snap.Schemas {
		total += len(s.Tables)
	}
	return len(cached) == total
}

func tableTokens(schemaName string, t schema.Table) map[string]bool {
	tokens := make(map[string]bool)
	addWords(tokens, schemaName)
	addWords(tokens, t.Name)
	for _, c := range t.Columns {
		addWords(tokens, c.Name)
	}
	return tokens
}

func addWords(tokens map[string]bool, s string) {
	for _, part := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '.' || r == ' ' || r == '-'
	}) {
		if part != "" {
			tokens[part] = true
		}
	}
}

// selectTables returns every table when the total column count stays under
// the budget; otherwise it ranks tables by lexical overlap with the
// question and returns the top-scoring subset that fits the budget (spec
// §4.4).
func (a *Assembler) selectTables(tables []rankedTable, question string) []rankedTable {
	totalColumns := 0
	for _, t := range tables {
		totalColumns += len(t.table.Columns)
	}
	if totalColumns <= a.columnBudget {
		return tables
	}

	qWords := make(map[string]bool)
	addWords(qWords, question)

	type scored struct {
		rt    rankedTable
		score int
	}
	scoredTables := make([]scored, len(tables))
	for i, t := range tables {
		overlap := 0
		for w := range qWords {
			if t.tokens[w] {
				overlap++
			}
		}
		scoredTables[i] = scored{rt: t, score: overlap}
	}
	sort.SliceStable(scoredTables, func(i, j int) bool { return scoredTables[i].score > scoredTables[j].score })

	var out []rankedTable
	used := 0
	for _, s := range scoredTables {
		n := len(s.rt.table.Columns)
		if used+n > a.columnBudget && len(out) > 0 {
			break
		}
		out = append(out, s.rt)
		used += n
	}
	return out
}
