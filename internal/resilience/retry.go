// Package resilience provides reliability patterns shared by every
// component that calls out to a remote service: retry with exponential
// backoff and jitter, and error classification for metrics labeling.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Metrics is the subset of observability hooks the retry loop needs. A real
// implementation is backed by Prometheus (see internal/observability); tests
// can pass nil to skip metrics entirely.
type Metrics interface {
	RecordAttempt(operation, outcome, errorType string, durationSeconds float64)
	RecordBackoff(operation string, delaySeconds float64)
	RecordFinalAttempt(operation, outcome string, attempts int)
}

// Policy defines configuration for retry behavior with exponential backoff.
type Policy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	ErrorChecker  ErrorChecker
	Logger        *slog.Logger
	Metrics       Metrics
	OperationName string
}

// ErrorChecker determines if an error should trigger a retry attempt.
type ErrorChecker interface {
	IsRetryable(err error) bool
}

// DefaultPolicy returns a sensible default retry policy.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetryFunc executes operation under the given policy, retrying on
// retryable errors with exponential backoff and jitter. Context cancellation
// during a retry delay returns immediately with ctx.Err().
func WithRetryFunc[T any](ctx context.Context, policy *Policy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opName := policy.OperationName
	if opName == "" {
		opName = "unknown"
	}
	startTime := time.Now()

	var lastResult T
	var lastErr error
	delay := policy.BaseDelay
	attempts := 0

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attempts++
		attemptStart := time.Now()
		result, err := operation()
		attemptDuration := time.Since(attemptStart).Seconds()

		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "success", "none", attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "success", attempts)
			}
			return result, nil
		}

		lastResult = result
		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			logger.Debug("error is non-retryable, stopping retry loop", "error", err, "attempt", attempt+1)
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "failure", classifyError(err), attemptDuration)
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempts)
			}
			return lastResult, lastErr
		}

		if policy.Metrics != nil {
			policy.Metrics.RecordAttempt(opName, "failure", classifyError(err), attemptDuration)
		}

		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			if policy.Metrics != nil {
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempts)
			}
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", err)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(opName, delay.Seconds())
		}

		if !waitWithContext(ctx, delay) {
			var zero T
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "cancelled", classifyError(ctx.Err()), time.Since(startTime).Seconds())
				policy.Metrics.RecordFinalAttempt(opName, "cancelled", attempts)
			}
			return zero, ctx.Err()
		}

		delay = calculateNextDelay(delay, policy)
	}

	return lastResult, fmt.Errorf("operation %q failed after %d attempts: %w", opName, policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker ErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func calculateNextDelay(currentDelay time.Duration, policy *Policy) time.Duration {
	nextDelay := time.Duration(float64(currentDelay) * policy.Multiplier)
	if nextDelay > policy.MaxDelay {
		nextDelay = policy.MaxDelay
	}
	if policy.Jitter {
		jitterAmount := time.Duration(float64(nextDelay) * 0.1 * rand.Float64())
		nextDelay += jitterAmount
	}
	return nextDelay
}
