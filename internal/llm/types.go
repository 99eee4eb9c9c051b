// Package llm wraps the external text-completion provider (C8): rate
// limiting, retry with backoff, a circuit breaker and a per-call timeout
// guard the two operations the orchestrator needs, generate_sql and
// judge_result, grounded on the teacher's
// internal/infrastructure/llm/{client,circuit_breaker}.go.
package llm

import (
	"context"
	"time"
)

// GeneratedSQL is the provider's proposed statement before validation (spec
// §3). Text is untrusted until it passes C6.
type GeneratedSQL struct {
	Text         string
	Dialect      string
	TokenCount   int
	ModelID      string
	GenerationMS int64
}

// Confidence is C10's best-effort judgement of a result (spec §3). Score is
// nil when judging failed or was skipped.
type Confidence struct {
	Score     *int
	Rationale string
	Concerns  []string
}

// Client is the contract the orchestrator depends on.
type Client interface {
	GenerateSQL(ctx context.Context, prompt string) (*GeneratedSQL, error)
	JudgeResult(ctx context.Context, question, sql string, sampleRows []map[string]any) (*Confidence, error)
	Health(ctx context.Context) error
}

// Config configures an HTTPClient, grounded on the teacher's llm.Config plus
// rate limiting and circuit breaker knobs.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	RateLimit      float64 // requests per second
	RateBurst      int
	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig mirrors the teacher's DefaultConfig, extended with rate
// limiting and circuit breaker defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://llm-proxy.internal",
		Model:          "gpt-4o-mini",
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		RateLimit:      5,
		RateBurst:      10,
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}
