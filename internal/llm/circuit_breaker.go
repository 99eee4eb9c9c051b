package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nlsql/gateway/internal/observability"
)

// ErrCircuitBreakerOpen is returned by Call when the breaker is open or the
// half-open test slot is occupied.
var ErrCircuitBreakerOpen = errors.New("llm: circuit breaker is open")

// CircuitBreakerState is one of the three states in the breaker's state
// machine (spec §4.5).
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type callResult struct {
	timestamp time.Time
	success   bool
	duration  time.Duration
	slow      bool
}

// CircuitBreaker prevents cascading failures by failing fast once the LLM
// provider looks unhealthy, adapted from the teacher's
// internal/infrastructure/llm/circuit_breaker.go and generalized beyond
// alert classification to the gateway's generate/judge calls.
type CircuitBreaker struct {
	maxFailures      int
	resetTimeout     time.Duration
	failureThreshold float64
	timeWindow       time.Duration
	slowCallDuration time.Duration
	halfOpenMaxCalls int

	mu                   sync.RWMutex
	state                CircuitBreakerState
	failureCount         int
	successCount         int
	consecutiveFailures  int
	consecutiveSuccesses int
	lastStateChange      time.Time
	lastFailure          time.Time
	lastSuccess          time.Time
	halfOpenCalls        int

	callResults []callResult

	logger  *slog.Logger
	metrics *observability.CircuitBreakerMetrics
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	MaxFailures      int
	ResetTimeout     time.Duration
	FailureThreshold float64
	TimeWindow       time.Duration
	SlowCallDuration time.Duration
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig returns the teacher's production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		ResetTimeout:     30 * time.Second,
		FailureThreshold: 0.5,
		TimeWindow:       60 * time.Second,
		SlowCallDuration: 5 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures <= 0 {
		return errors.New("max_failures must be positive")
	}
	if c.ResetTimeout <= 0 {
		return errors.New("reset_timeout must be positive")
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		return errors.New("failure_threshold must be between 0 and 1")
	}
	if c.TimeWindow <= 0 {
		return errors.New("time_window must be positive")
	}
	if c.SlowCallDuration <= 0 {
		return errors.New("slow_call_duration must be positive")
	}
	if c.HalfOpenMaxCalls <= 0 {
		return errors.New("half_open_max_calls must be positive")
	}
	return nil
}

// NewCircuitBreaker builds a CircuitBreaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *slog.Logger, metrics *observability.CircuitBreakerMetrics) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := &CircuitBreaker{
		maxFailures:      config.MaxFailures,
		resetTimeout:     config.ResetTimeout,
		failureThreshold: config.FailureThreshold,
		timeWindow:       config.TimeWindow,
		slowCallDuration: config.SlowCallDuration,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		state:            StateClosed,
		lastStateChange:  time.Now(),
		callResults:      make([]callResult, 0, 100),
		logger:           logger,
		metrics:          metrics,
	}
	if metrics != nil {
		metrics.State.Set(float64(StateClosed))
	}
	return cb, nil
}

// Call executes operation through the breaker, returning ErrCircuitBreakerOpen
// without invoking operation when the circuit is open.
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	start := time.Now()
	err := operation(ctx)
	cb.afterCall(err, time.Since(start))
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.resetTimeout {
			cb.transitionToHalfOpenUnsafe()
			return nil
		}
		if cb.metrics != nil {
			cb.metrics.RequestsBlocked.Inc()
		}
		return ErrCircuitBreakerOpen

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			if cb.metrics != nil {
				cb.metrics.RequestsBlocked.Inc()
			}
			return ErrCircuitBreakerOpen
		}
		cb.halfOpenCalls++
		if cb.metrics != nil {
			cb.metrics.HalfOpenRequests.Inc()
		}
		return nil

	default: // StateClosed
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error, duration time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isSlow := duration >= cb.slowCallDuration
	isSuccess := err == nil && !isSlow

	now := time.Now()
	cb.callResults = append(cb.callResults, callResult{timestamp: now, success: isSuccess, duration: duration, slow: isSlow})
	cb.cleanOldResultsUnsafe()

	if isSuccess {
		cb.successCount++
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
		cb.lastSuccess = now
		if cb.metrics != nil {
			cb.metrics.Successes.Inc()
			cb.metrics.CallDuration.WithLabelValues("success").Observe(duration.Seconds())
		}
	} else {
		cb.failureCount++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		cb.lastFailure = now
		if cb.metrics != nil {
			cb.metrics.Failures.Inc()
			if isSlow {
				cb.metrics.SlowCalls.Inc()
			}
			cb.metrics.CallDuration.WithLabelValues("failure").Observe(duration.Seconds())
		}
	}

	switch cb.state {
	case StateClosed:
		if cb.shouldOpenUnsafe() {
			cb.transitionToOpenUnsafe()
		}
	case StateHalfOpen:
		if isSuccess {
			cb.transitionToClosedUnsafe()
		} else {
			cb.transitionToOpenUnsafe()
		}
	}
}

func (cb *CircuitBreaker) shouldOpenUnsafe() bool {
	if len(cb.callResults) < cb.maxFailures {
		return false
	}
	if cb.consecutiveFailures >= cb.maxFailures {
		return true
	}
	failures := 0
	for _, r := range cb.callResults {
		if !r.success {
			failures++
		}
	}
	return float64(failures)/float64(len(cb.callResults)) >= cb.failureThreshold
}

func (cb *CircuitBreaker) transitionToOpenUnsafe() {
	old := cb.state
	cb.state = StateOpen
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	cb.logger.Warn("llm circuit breaker opened", "previous_state", old, "consecutive_failures", cb.consecutiveFailures)
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(old.String(), "open").Inc()
		cb.metrics.State.Set(float64(StateOpen))
	}
}

func (cb *CircuitBreaker) transitionToHalfOpenUnsafe() {
	old := cb.state
	cb.state = StateHalfOpen
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	cb.logger.Info("llm circuit breaker entering half-open", "previous_state", old)
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(old.String(), "half_open").Inc()
		cb.metrics.State.Set(float64(StateHalfOpen))
	}
}

func (cb *CircuitBreaker) transitionToClosedUnsafe() {
	old := cb.state
	cb.state = StateClosed
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0
	cb.failureCount = 0
	cb.consecutiveFailures = 0
	cb.callResults = make([]callResult, 0, 100)
	cb.logger.Info("llm circuit breaker closed", "previous_state", old)
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(old.String(), "closed").Inc()
		cb.metrics.State.Set(float64(StateClosed))
	}
}

func (cb *CircuitBreaker) cleanOldResultsUnsafe() {
	cutoff := time.Now().Add(-cb.timeWindow)
	firstValid := 0
	for i, r := range cb.callResults {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
		cb.callResults[i] = callResult{}
	}
	if firstValid > 0 {
		cb.callResults = cb.callResults[firstValid:]
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
