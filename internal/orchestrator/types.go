// Package orchestrator composes the schema cache, prompt assembler, LLM
// client, SQL safety validator, executor and result judge into the
// request-level state machine described in spec §4.7: S0_init → S1_schema →
// S2_generate → S3_validate → S4_execute → S5_judge → S6_done | S_fail.
package orchestrator

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/executor"
	"github.com/nlsql/gateway/internal/llm"
)

// ReturnMode selects whether a request wants the generated SQL executed or
// only validated and returned as text.
type ReturnMode string

const (
	ReturnModeExecute ReturnMode = "execute"
	ReturnModeSQLOnly ReturnMode = "sql_only"
)

// maxQuestionBytes bounds QueryRequest.Question (spec §3); kept in sync with
// the validate:"max" tag below since validator tags must be literal.
const maxQuestionBytes = 10 * 1024

// QueryRequest is the orchestrator's single entry point payload (spec §3),
// validated with struct tags the way the teacher's API handlers validate
// request bodies (internal/api/middleware/validation.go).
type QueryRequest struct {
	DatabaseName string     `json:"database_name" validate:"required"`
	Question     string     `json:"question" validate:"required,max=10240"` // maxQuestionBytes
	ReturnMode   ReturnMode `json:"return_mode"`
	ClientHints  string     `json:"client_hints,omitempty"`
}

var requestValidator = validator.New()

// Validate enforces the request-shape invariants the state machine assumes
// before S1 ever runs.
func (r QueryRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		if r.DatabaseName == "" {
			return apperrors.New(apperrors.KindUnknownDB, "database_name is required")
		}
		return apperrors.Wrap(apperrors.KindInternalError, "invalid request", err)
	}
	// the max tag counts characters; this bounds the UTF-8 byte length.
	if len(r.Question) > maxQuestionBytes {
		return apperrors.New(apperrors.KindInternalError, "invalid request: question exceeds maximum length")
	}
	return nil
}

// Stats reports per-stage latencies and remediation attempts (spec §4.7 S6).
type Stats struct {
	SchemaMS   int64 `json:"schema_ms"`
	GenerateMS int64 `json:"generate_ms"`
	ValidateMS int64 `json:"validate_ms"`
	ExecuteMS  int64 `json:"execute_ms"`
	JudgeMS    int64 `json:"judge_ms"`
	Retries    int   `json:"retries"`
}

// QueryResponse is the orchestrator's single return value (spec §6).
type QueryResponse struct {
	RequestID  string                `json:"request_id"`
	Success    bool                  `json:"success"`
	SQL        string                `json:"sql,omitempty"`
	Data       *executor.QueryResult `json:"data,omitempty"`
	Confidence *llm.Confidence       `json:"confidence,omitempty"`
	Stats      Stats                 `json:"stats"`
	Error      *apperrors.Record     `json:"error,omitempty"`
}

// Config bounds the state machine's per-stage timeouts and remediation
// budget (spec §5, §4.7).
type Config struct {
	OverallTimeout    time.Duration
	SchemaTimeout     time.Duration
	GenerateTimeout   time.Duration
	ExecuteTimeout    time.Duration
	JudgeTimeout      time.Duration
	RemediationBudget int
	JudgingEnabled    bool

	// AllowWrite, BlockedFunctions, MaxRows and AllowExplain are the
	// process-wide safety policy (config.SecurityConfig); per-database
	// RowCap/AllowedTables come from the database's own registry.Descriptor
	// instead. MaxRows is the global row cap a database with no RowCap of
	// its own falls back to (spec §3's "per-DB row cap override").
	AllowWrite       bool
	BlockedFunctions []string
	MaxRows          int
	AllowExplain     bool
}

// DefaultConfig mirrors spec §5's default sub-budgets and §4.7's default
// remediation budget of one cycle.
func DefaultConfig() Config {
	return Config{
		OverallTimeout:    60 * time.Second,
		SchemaTimeout:     10 * time.Second,
		GenerateTimeout:   15 * time.Second,
		ExecuteTimeout:    30 * time.Second,
		JudgeTimeout:      10 * time.Second,
		RemediationBudget: 1,
		MaxRows:           10000,
		JudgingEnabled:    true,
	}
}
