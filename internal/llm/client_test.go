package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 2
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	cfg.CircuitBreaker.MaxFailures = 100

	c, err := NewHTTPClient(cfg, nil, nil)
	require.NoError(t, err)
	return c
}

func TestGenerateSQL_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Text: "SELECT 1", TokenCount: 5})
	})

	out, err := c.GenerateSQL(context.Background(), "how many users?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out.Text)
	assert.Equal(t, 5, out.TokenCount)
}

func TestGenerateSQL_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Text: "SELECT 2"})
	})

	out, err := c.GenerateSQL(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", out.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerateSQL_DoesNotRetryOn400(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.GenerateSQL(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateSQL_EmptyTextIsParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Text: ""})
	})

	_, err := c.GenerateSQL(context.Background(), "q")
	require.Error(t, err)
}

func TestJudgeResult_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		score := 90
		_ = json.NewEncoder(w).Encode(judgeResponse{Score: &score, Rationale: "looks right"})
	})

	out, err := c.JudgeResult(context.Background(), "how many users?", "SELECT count(*) FROM users", nil)
	require.NoError(t, err)
	require.NotNil(t, out.Score)
	assert.Equal(t, 90, *out.Score)
}

func TestRateLimiter_FailsFastWhenExhausted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Text: "SELECT 1"})
	})
	c.limiter.SetLimit(0)
	c.limiter.SetBurst(0)

	_, err := c.GenerateSQL(context.Background(), "q")
	require.Error(t, err)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.config.MaxRetries = 0
	c.breaker, _ = NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 2, ResetTimeout: time.Minute, FailureThreshold: 0.5,
		TimeWindow: time.Minute, SlowCallDuration: time.Second, HalfOpenMaxCalls: 1,
	}, nil, nil)

	for i := 0; i < 2; i++ {
		_, _ = c.GenerateSQL(context.Background(), "q")
	}
	assert.Equal(t, StateOpen, c.breaker.State())

	_, err := c.GenerateSQL(context.Background(), "q")
	require.Error(t, err)
}
