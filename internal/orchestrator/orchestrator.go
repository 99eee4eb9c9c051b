package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/confidence"
	"github.com/nlsql/gateway/internal/executor"
	"github.com/nlsql/gateway/internal/llm"
	"github.com/nlsql/gateway/internal/observability"
	"github.com/nlsql/gateway/internal/prompt"
	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/schema"
	"github.com/nlsql/gateway/internal/sqlsafety"
)

// SchemaSource is the narrow slice of schema.Cache the orchestrator needs
// (S1_schema); accepting an interface here keeps the state machine testable
// without a real database.
type SchemaSource interface {
	Get(ctx context.Context, dbName string) (*schema.Snapshot, error)
}

// Runner is the narrow slice of executor.Executor the orchestrator needs
// (S4_execute).
type Runner interface {
	Execute(ctx context.Context, dialect registry.Dialect, dbName string, stmt *sqlsafety.ValidatedSQL, rowCap int, deadline time.Duration) (*executor.QueryResult, error)
}

// ResultJudge is the narrow slice of confidence.Judge the orchestrator needs
// (S5_judge).
type ResultJudge interface {
	Score(ctx context.Context, question, sql string, result *executor.QueryResult) (*llm.Confidence, error)
}

// Orchestrator composes C5 through C10 behind the single Handle entry point,
// grounded on the teacher's ClassifyAlert retry/fallback orchestration in
// internal/infrastructure/llm/client.go, generalized into an explicit
// per-request state machine.
type Orchestrator struct {
	registry    *registry.Registry
	schemaCache SchemaSource
	assembler   *prompt.Assembler
	llmClient   llm.Client
	executor    Runner
	judge       ResultJudge
	config      Config
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New builds an Orchestrator from its component dependencies.
func New(
	reg *registry.Registry,
	schemaCache SchemaSource,
	assembler *prompt.Assembler,
	llmClient llm.Client,
	exec Runner,
	judge ResultJudge,
	cfg Config,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:    reg,
		schemaCache: schemaCache,
		assembler:   assembler,
		llmClient:   llmClient,
		executor:    exec,
		judge:       judge,
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
	}
}

// Handle runs the full state machine for one request and always returns a
// QueryResponse; failures are carried in the response's Error field rather
// than as a Go error, matching spec §6's query() contract.
func (o *Orchestrator) Handle(ctx context.Context, req QueryRequest) *QueryResponse {
	requestID := uuid.NewString()
	logger := o.logger.With("request_id", requestID, "db", req.DatabaseName)

	if err := req.Validate(); err != nil {
		return o.fail(requestID, Stats{}, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.OverallTimeout)
	defer cancel()

	desc, ok := o.registry.Get(req.DatabaseName)
	if !ok {
		return o.fail(requestID, Stats{}, apperrors.New(apperrors.KindUnknownDB, "database not registered: "+req.DatabaseName))
	}

	var stats Stats

	// S1_schema
	snap, ms, err := o.stageSchema(ctx, req.DatabaseName)
	stats.SchemaMS = ms
	if err != nil {
		logger.Warn("schema unavailable", "error", err)
		return o.fail(requestID, stats, err)
	}

	budget := o.config.RemediationBudget
	var hint string
	var generated *llm.GeneratedSQL
	var validated *sqlsafety.ValidatedSQL

	for {
		// S2_generate
		gen, genMS, err := o.stageGenerate(ctx, req.DatabaseName, req.Question, snap, desc.Dialect, hint)
		stats.GenerateMS += genMS
		if err != nil {
			logger.Warn("sql generation failed", "error", err)
			return o.fail(requestID, stats, err)
		}
		generated = gen

		// S3_validate
		v, valMS, verr := o.stageValidate(ctx, desc, generated.Text)
		stats.ValidateMS += valMS
		if verr == nil {
			validated = v
			break
		}

		kind := apperrors.KindOf(verr)
		if !isRemediable(kind) || budget <= 0 {
			o.recordRefusal(kind)
			if budget <= 0 && isRemediable(kind) && exhaustionFailsUnsafe(kind) {
				return o.fail(requestID, stats, apperrors.Wrap(apperrors.KindUnsafeSQL, "remediation budget exhausted", verr))
			}
			return o.fail(requestID, stats, verr)
		}

		budget--
		stats.Retries++
		hint = remediationHint(kind, verr)
		logger.Info("entering remediation cycle", "kind", kind, "remaining_budget", budget)
	}

	if req.ReturnMode == ReturnModeSQLOnly {
		return &QueryResponse{RequestID: requestID, Success: true, SQL: validated.SQL, Stats: stats}
	}

	// S4_execute
	result, execMS, err := o.stageExecute(ctx, desc, validated)
	stats.ExecuteMS = execMS
	if err != nil {
		logger.Warn("execution failed", "error", err)
		return o.fail(requestID, stats, err)
	}

	resp := &QueryResponse{RequestID: requestID, Success: true, SQL: validated.SQL, Data: result, Stats: stats}

	// S5_judge (best-effort, never fails the request)
	if o.config.JudgingEnabled && o.judge != nil {
		conf, judgeMS := o.stageJudge(ctx, req.Question, validated.SQL, result)
		stats.JudgeMS = judgeMS
		resp.Confidence = conf
		resp.Stats = stats
	}

	o.recordOutcome("success")
	return resp
}

func (o *Orchestrator) stageSchema(ctx context.Context, dbName string) (*schema.Snapshot, int64, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.config.SchemaTimeout)
	defer cancel()
	snap, err := o.schemaCache.Get(ctx, dbName)
	ms := time.Since(start).Milliseconds()
	if err != nil {
		return nil, ms, apperrors.Wrap(apperrors.KindSchemaUnavailable, "fetch schema", err)
	}
	return snap, ms, nil
}

func (o *Orchestrator) stageGenerate(ctx context.Context, dbName, question string, snap *schema.Snapshot, dialect registry.Dialect, hint string) (*llm.GeneratedSQL, int64, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.config.GenerateTimeout)
	defer cancel()
	rendered := o.assembler.Build(dbName, question, snap, dialect, hint)
	gen, err := o.llmClient.GenerateSQL(ctx, rendered)
	ms := time.Since(start).Milliseconds()
	if err != nil {
		return nil, ms, err
	}
	return gen, ms, nil
}

// effectiveRowCap resolves spec §3's "per-DB row cap override": a database
// with no row_cap of its own falls back to the process-wide security.max_rows
// base instead of an unset cap collapsing to zero.
func (o *Orchestrator) effectiveRowCap(desc registry.Descriptor) int {
	if desc.RowCap > 0 {
		return desc.RowCap
	}
	return o.config.MaxRows
}

func (o *Orchestrator) stageValidate(ctx context.Context, desc registry.Descriptor, sqlText string) (*sqlsafety.ValidatedSQL, int64, error) {
	start := time.Now()
	policy := sqlsafety.Policy{
		AllowWrite:       o.config.AllowWrite,
		BlockedFunctions: o.config.BlockedFunctions,
		RowCap:           o.effectiveRowCap(desc),
		AllowedTables:    desc.AllowedTables,
		AllowExplain:     o.config.AllowExplain,
	}
	v, err := sqlsafety.Validate(ctx, desc.Dialect, sqlText, policy)
	ms := time.Since(start).Milliseconds()
	return v, ms, err
}

func (o *Orchestrator) stageExecute(ctx context.Context, desc registry.Descriptor, validated *sqlsafety.ValidatedSQL) (*executor.QueryResult, int64, error) {
	start := time.Now()
	result, err := o.executor.Execute(ctx, desc.Dialect, desc.Name, validated, o.effectiveRowCap(desc), o.config.ExecuteTimeout)
	ms := time.Since(start).Milliseconds()
	return result, ms, err
}

func (o *Orchestrator) stageJudge(ctx context.Context, question, sql string, result *executor.QueryResult) (*llm.Confidence, int64) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.config.JudgeTimeout)
	defer cancel()
	conf, _ := o.judge.Score(ctx, question, sql, result)
	return conf, time.Since(start).Milliseconds()
}

// isRemediable reports whether kind triggers a return to S2 under budget
// rather than an immediate failure (spec §4.7 S3, spec §7 error table).
func isRemediable(kind apperrors.ErrorKind) bool {
	switch kind {
	case apperrors.KindParseError, apperrors.KindNotReadonly, apperrors.KindBlockedFunction, apperrors.KindDisallowedIdentifier:
		return true
	default:
		return false
	}
}

// exhaustionFailsUnsafe reports whether budget exhaustion for kind surfaces
// as the generic unsafe_sql kind. Spec §4.7 S3 names this explicitly for
// parse_error/not_readonly; blocked_function and disallowed_identifier keep
// their original, more specific kind so callers see why the SQL was refused.
func exhaustionFailsUnsafe(kind apperrors.ErrorKind) bool {
	return kind == apperrors.KindParseError || kind == apperrors.KindNotReadonly
}

// remediationHint renders the structured failure hint prepended to the next
// generation prompt (spec glossary: Remediation cycle).
func remediationHint(kind apperrors.ErrorKind, err error) string {
	return "The previous attempt was refused (" + string(kind) + "): " + err.Error()
}

func (o *Orchestrator) recordRefusal(kind apperrors.ErrorKind) {
	if o.metrics != nil {
		o.metrics.SQLRefusalsTotal.WithLabelValues(string(kind)).Inc()
	}
}

func (o *Orchestrator) recordOutcome(outcome string) {
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) fail(requestID string, stats Stats, err error) *QueryResponse {
	o.recordOutcome("failure")
	rec := apperrors.ToRecord(err, requestID)
	return &QueryResponse{RequestID: requestID, Success: false, Stats: stats, Error: &rec}
}
