package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/executor"
	"github.com/nlsql/gateway/internal/llm"
	"github.com/nlsql/gateway/internal/prompt"
	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/schema"
	"github.com/nlsql/gateway/internal/sqlsafety"
)

type fakeSchemaSource struct {
	snap  *schema.Snapshot
	err   error
	calls int
}

func (f *fakeSchemaSource) Get(ctx context.Context, dbName string) (*schema.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type fakeRunner struct {
	result    *executor.QueryResult
	err       error
	gotRowCap int
}

func (f *fakeRunner) Execute(ctx context.Context, dialect registry.Dialect, dbName string, stmt *sqlsafety.ValidatedSQL, rowCap int, deadline time.Duration) (*executor.QueryResult, error) {
	f.gotRowCap = rowCap
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeJudge struct {
	conf *llm.Confidence
}

func (f *fakeJudge) Score(ctx context.Context, question, sql string, result *executor.QueryResult) (*llm.Confidence, error) {
	return f.conf, nil
}

func testSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		QuoteStyle: `"`,
		Schemas: []schema.Schema{{
			Name: "public",
			Tables: []schema.Table{{
				Name: "users",
				Kind: schema.KindTable,
				Columns: []schema.Column{
					{Name: "id", Type: "int", PrimaryKey: true},
					{Name: "email", Type: "text"},
				},
			}},
		}},
	}
}

func newTestOrchestrator(t *testing.T, reg *registry.Registry, schemaSrc SchemaSource, llmClient llm.Client, runner Runner) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OverallTimeout = 2 * time.Second
	cfg.SchemaTimeout = time.Second
	cfg.GenerateTimeout = time.Second
	cfg.ExecuteTimeout = time.Second
	cfg.JudgeTimeout = time.Second
	cfg.BlockedFunctions = []string{"pg_sleep", "sleep", "load_file", "into_outfile"}
	return New(reg, schemaSrc, prompt.NewAssembler(0), llmClient, runner, &fakeJudge{conf: &llm.Confidence{Rationale: "ok"}}, cfg, nil, nil)
}

func registryWithBlog(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "blog", Dialect: registry.DialectPostgres, URI: "x", PoolMin: 0, PoolMax: 1, RowCap: 1000,
	}))
	return reg
}

func TestHandle_E1_CountQuerySucceeds(t *testing.T) {
	reg := registryWithBlog(t)
	schemaSrc := &fakeSchemaSource{snap: testSnapshot()}
	mockLLM := &llm.MockClient{
		GenerateFunc: func(ctx context.Context, prompt string) (*llm.GeneratedSQL, error) {
			return &llm.GeneratedSQL{Text: "SELECT COUNT(*) FROM users", Dialect: "postgres"}, nil
		},
	}
	runner := &fakeRunner{result: &executor.QueryResult{
		Columns:  []executor.ColumnInfo{{Name: "count", Type: executor.TagInt}},
		Rows:     [][]any{{int64(42)}},
		RowCount: 1,
	}}
	o := newTestOrchestrator(t, reg, schemaSrc, mockLLM, runner)

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "blog", Question: "How many users are there?", ReturnMode: ReturnModeExecute})

	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 1, resp.Data.RowCount)
	assert.Contains(t, resp.SQL, "LIMIT")
}

func TestHandle_UsesGlobalMaxRowsWhenDatabaseHasNoRowCap(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{
		Name: "blog", Dialect: registry.DialectPostgres, URI: "x", PoolMin: 0, PoolMax: 1, RowCap: 0,
	}))
	schemaSrc := &fakeSchemaSource{snap: testSnapshot()}
	mockLLM := &llm.MockClient{
		GenerateFunc: func(ctx context.Context, prompt string) (*llm.GeneratedSQL, error) {
			return &llm.GeneratedSQL{Text: "SELECT id FROM users", Dialect: "postgres"}, nil
		},
	}
	runner := &fakeRunner{result: &executor.QueryResult{
		Columns:  []executor.ColumnInfo{{Name: "id", Type: executor.TagInt}},
		Rows:     [][]any{{int64(1)}},
		RowCount: 1,
	}}
	o := newTestOrchestrator(t, reg, schemaSrc, mockLLM, runner)
	o.config.MaxRows = 5000

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "blog", Question: "List user ids", ReturnMode: ReturnModeExecute})

	require.True(t, resp.Success)
	assert.Equal(t, 5000, runner.gotRowCap)
}

func TestHandle_E2_WriteAttemptExhaustsRemediationAsUnsafeSQL(t *testing.T) {
	reg := registryWithBlog(t)
	schemaSrc := &fakeSchemaSource{snap: testSnapshot()}
	var calls int
	mockLLM := &llm.MockClient{
		GenerateFunc: func(ctx context.Context, prompt string) (*llm.GeneratedSQL, error) {
			calls++
			return &llm.GeneratedSQL{Text: "DELETE FROM posts", Dialect: "postgres"}, nil
		},
	}
	o := newTestOrchestrator(t, reg, schemaSrc, mockLLM, &fakeRunner{})

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "blog", Question: "Delete all posts", ReturnMode: ReturnModeExecute})

	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(apperrors.KindUnsafeSQL), string(resp.Error.Kind))
	assert.Equal(t, 2, calls) // budget(1) + 1 initial attempt
}

func TestHandle_E3_UnknownDatabaseMakesNoLLMCall(t *testing.T) {
	reg := registry.New()
	schemaSrc := &fakeSchemaSource{}
	mockLLM := &llm.MockClient{
		GenerateFunc: func(ctx context.Context, prompt string) (*llm.GeneratedSQL, error) {
			t.Fatal("LLM must not be called for an unknown database")
			return nil, nil
		},
	}
	o := newTestOrchestrator(t, reg, schemaSrc, mockLLM, &fakeRunner{})

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "unknown", Question: "anything", ReturnMode: ReturnModeExecute})

	require.False(t, resp.Success)
	assert.Equal(t, string(apperrors.KindUnknownDB), string(resp.Error.Kind))
	assert.Equal(t, 0, schemaSrc.calls)
}

func TestHandle_E4_BlockedFunctionKeepsItsKindAfterExhaustion(t *testing.T) {
	reg := registryWithBlog(t)
	schemaSrc := &fakeSchemaSource{snap: testSnapshot()}
	mockLLM := &llm.MockClient{
		GenerateFunc: func(ctx context.Context, prompt string) (*llm.GeneratedSQL, error) {
			return &llm.GeneratedSQL{Text: "SELECT pg_sleep(100)", Dialect: "postgres"}, nil
		},
	}
	o := newTestOrchestrator(t, reg, schemaSrc, mockLLM, &fakeRunner{})

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "blog", Question: "sleep", ReturnMode: ReturnModeExecute})

	require.False(t, resp.Success)
	assert.Equal(t, string(apperrors.KindBlockedFunction), string(resp.Error.Kind))
}

func TestHandle_SchemaUnavailableFailsFast(t *testing.T) {
	reg := registryWithBlog(t)
	schemaSrc := &fakeSchemaSource{err: errors.New("introspection failed")}
	mockLLM := &llm.MockClient{
		GenerateFunc: func(ctx context.Context, prompt string) (*llm.GeneratedSQL, error) {
			t.Fatal("LLM must not be called when schema is unavailable")
			return nil, nil
		},
	}
	o := newTestOrchestrator(t, reg, schemaSrc, mockLLM, &fakeRunner{})

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "blog", Question: "anything", ReturnMode: ReturnModeExecute})

	require.False(t, resp.Success)
	assert.Equal(t, string(apperrors.KindSchemaUnavailable), string(resp.Error.Kind))
}

func TestHandle_SQLOnlySkipsExecution(t *testing.T) {
	reg := registryWithBlog(t)
	schemaSrc := &fakeSchemaSource{snap: testSnapshot()}
	mockLLM := &llm.MockClient{
		GenerateFunc: func(ctx context.Context, prompt string) (*llm.GeneratedSQL, error) {
			return &llm.GeneratedSQL{Text: "SELECT id FROM users", Dialect: "postgres"}, nil
		},
	}
	runner := &fakeRunner{err: errors.New("must not be called")}
	o := newTestOrchestrator(t, reg, schemaSrc, mockLLM, runner)

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "blog", Question: "ids", ReturnMode: ReturnModeSQLOnly})

	require.True(t, resp.Success)
	assert.Nil(t, resp.Data)
	assert.NotEmpty(t, resp.SQL)
}

func TestHandle_EmptyQuestionRejected(t *testing.T) {
	reg := registryWithBlog(t)
	o := newTestOrchestrator(t, reg, &fakeSchemaSource{}, &llm.MockClient{}, &fakeRunner{})

	resp := o.Handle(context.Background(), QueryRequest{DatabaseName: "blog", Question: "", ReturnMode: ReturnModeExecute})

	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
}
