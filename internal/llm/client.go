package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nlsql/gateway/internal/apperrors"
	"github.com/nlsql/gateway/internal/observability"
	"github.com/nlsql/gateway/internal/resilience"
)

// generateRequest/generateResponse and judgeRequest/judgeResponse are the
// wire shapes sent to the text-completion provider, in the same flat
// request/response style as the teacher's ClassificationRequest/Response.
type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type generateResponse struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Error      string `json:"error,omitempty"`
}

type judgeRequest struct {
	Question   string           `json:"question"`
	SQL        string           `json:"sql"`
	SampleRows []map[string]any `json:"sample_rows"`
	Model      string           `json:"model"`
}

type judgeResponse struct {
	Score     *int     `json:"score"`
	Rationale string   `json:"rationale"`
	Concerns  []string `json:"concerns"`
	Error     string   `json:"error,omitempty"`
}

// HTTPClient implements Client over HTTP, composing a token-bucket rate
// limiter, internal/resilience retry with backoff, and a CircuitBreaker —
// generalizing the teacher's hand-rolled retry loop in
// internal/infrastructure/llm/client.go into the shared resilience package.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *CircuitBreaker
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewHTTPClient builds an HTTPClient.
func NewHTTPClient(config Config, logger *slog.Logger, metrics *observability.Metrics) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var cbMetrics *observability.CircuitBreakerMetrics
	if metrics != nil {
		cbMetrics = metrics.CircuitBreaker
	}
	breaker, err := NewCircuitBreaker(config.CircuitBreaker, logger, cbMetrics)
	if err != nil {
		return nil, fmt.Errorf("llm: circuit breaker config: %w", err)
	}
	return &HTTPClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		breaker:    breaker,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// GenerateSQL implements the generate_sql operation (spec §4.5).
func (c *HTTPClient) GenerateSQL(ctx context.Context, prompt string) (*GeneratedSQL, error) {
	start := time.Now()
	result, err := callLLM(c, ctx, "generate_sql", func(ctx context.Context) (*generateResponse, error) {
		req := generateRequest{Prompt: prompt, Model: c.config.Model}
		var resp generateResponse
		if err := c.doJSON(ctx, "/generate", req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		c.recordOutcome("generate_sql", "error")
		return nil, err
	}
	if result.Error != "" {
		c.recordOutcome("generate_sql", "error")
		return nil, apperrors.New(apperrors.KindLLMParseError, "provider error: "+result.Error)
	}
	if strings.TrimSpace(result.Text) == "" {
		c.recordOutcome("generate_sql", "error")
		return nil, apperrors.New(apperrors.KindLLMParseError, "provider returned empty text")
	}
	c.recordOutcome("generate_sql", "success")
	return &GeneratedSQL{
		Text:         strings.TrimSpace(result.Text),
		ModelID:      c.config.Model,
		TokenCount:   result.TokenCount,
		GenerationMS: time.Since(start).Milliseconds(),
	}, nil
}

// JudgeResult implements the judge_result operation (spec §4.5). Errors here
// are returned to the caller, which degrades to an "unjudged" Confidence per
// spec §4.7 S5 rather than failing the request.
func (c *HTTPClient) JudgeResult(ctx context.Context, question, sql string, sampleRows []map[string]any) (*Confidence, error) {
	result, err := callLLM(c, ctx, "judge_result", func(ctx context.Context) (*judgeResponse, error) {
		req := judgeRequest{Question: question, SQL: sql, SampleRows: sampleRows, Model: c.config.Model}
		var resp judgeResponse
		if err := c.doJSON(ctx, "/judge", req, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		c.recordOutcome("judge_result", "error")
		return nil, err
	}
	if result.Error != "" {
		c.recordOutcome("judge_result", "error")
		return nil, apperrors.New(apperrors.KindLLMParseError, "provider error: "+result.Error)
	}
	c.recordOutcome("judge_result", "success")
	return &Confidence{Score: result.Score, Rationale: result.Rationale, Concerns: result.Concerns}, nil
}

// Health pings the provider without going through the breaker or retry
// path; callers use this for their own liveness checks.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindLLMUnavailable, "health check", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.KindLLMUnavailable, "health check returned "+strconv.Itoa(resp.StatusCode))
	}
	return nil
}

// kindErrorChecker defers retryability to the apperrors.ErrorKind table
// (spec §7) instead of inspecting the Go error value directly, so a single
// policy correctly handles whatever status code a given attempt produced.
type kindErrorChecker struct{}

func (kindErrorChecker) IsRetryable(err error) bool {
	return apperrors.KindOf(err).Retryable()
}

// callLLM wraps one provider round trip with the rate limiter, circuit
// breaker, and a resilience.WithRetryFunc retry policy, in that order: a
// rate-limited request never consumes a retry attempt or trips the breaker.
// It is a package-level generic function (not a method) because Go methods
// cannot carry their own type parameters.
func callLLM[T any](c *HTTPClient, ctx context.Context, op string, fn func(ctx context.Context) (*T, error)) (*T, error) {
	if !c.limiter.Allow() {
		return nil, apperrors.New(apperrors.KindRateLimited, "llm rate limit exceeded")
	}

	policy := resilience.DefaultPolicy()
	policy.MaxRetries = c.config.MaxRetries
	policy.OperationName = op
	policy.Logger = c.logger
	policy.ErrorChecker = kindErrorChecker{}
	if c.metrics != nil {
		policy.Metrics = c.metrics.Retry
	}

	return resilience.WithRetryFunc(ctx, policy, func() (*T, error) {
		var out *T
		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			r, callErr := fn(ctx)
			if callErr != nil {
				return callErr
			}
			out = r
			return nil
		})
		if err == ErrCircuitBreakerOpen {
			return nil, apperrors.New(apperrors.KindCircuitOpen, "llm circuit breaker open")
		}
		return out, err
	})
}

// doJSON posts req as JSON to path and decodes the response into out. A
// non-200 response is classified into an apperrors.ErrorKind so the retry
// policy above can decide, per attempt, whether it is worth retrying.
func (c *HTTPClient) doJSON(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.Wrap(apperrors.KindLLMUnavailable, "llm request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.Wrap(apperrors.KindLLMParseError, "decode llm response", err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.New(apperrors.KindRateLimited, "llm provider rate limited the request")
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout:
		return apperrors.New(apperrors.KindLLMUnavailable, fmt.Sprintf("llm provider error: status %d", resp.StatusCode))
	default:
		return apperrors.New(apperrors.KindInternalError, fmt.Sprintf("llm provider rejected request: status %d", resp.StatusCode))
	}
}

func (c *HTTPClient) recordOutcome(op, outcome string) {
	if c.metrics != nil {
		c.metrics.LLMCallsTotal.WithLabelValues(op, outcome).Inc()
	}
}
