package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide Prometheus metrics registry, grounded on the
// teacher's pervasive promauto usage (pkg/metrics/*). Counters and
// histograms match the names spec §9 lists under Observability.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	SQLRefusalsTotal   *prometheus.CounterVec
	LLMCallsTotal      *prometheus.CounterVec
	PoolAcquiresTotal  *prometheus.CounterVec
	SchemaRefreshTotal *prometheus.CounterVec

	StageLatency *prometheus.HistogramVec

	Retry          *RetryMetrics
	CircuitBreaker *CircuitBreakerMetrics
}

var (
	instance *Metrics
	once     sync.Once
)

// New returns the singleton process-wide metrics registry.
func New() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nlsql_gateway",
				Name:      "requests_total",
				Help:      "Total number of query requests by outcome.",
			}, []string{"outcome"}),

			SQLRefusalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nlsql_gateway",
				Name:      "sql_refusals_total",
				Help:      "Total number of SQL safety refusals by kind.",
			}, []string{"kind"}),

			LLMCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nlsql_gateway",
				Name:      "llm_calls_total",
				Help:      "Total number of LLM client calls by operation and outcome.",
			}, []string{"op", "outcome"}),

			PoolAcquiresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nlsql_gateway",
				Name:      "pool_acquires_total",
				Help:      "Total number of connection pool acquire attempts by database and outcome.",
			}, []string{"db", "outcome"}),

			SchemaRefreshTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nlsql_gateway",
				Name:      "schema_refresh_total",
				Help:      "Total number of schema introspection refreshes by database.",
			}, []string{"db"}),

			StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nlsql_gateway",
				Name:      "stage_latency_seconds",
				Help:      "Latency per orchestrator stage.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}, []string{"stage"}),

			Retry:          newRetryMetrics(),
			CircuitBreaker: newCircuitBreakerMetrics(),
		}
	})
	return instance
}

// RetryMetrics tracks retry operation metrics for the resilience package,
// grounded on the teacher's pkg/metrics/retry.go (using a plain sync.Once
// here instead of that file's hand-rolled equivalent — see DESIGN.md).
type RetryMetrics struct {
	AttemptsTotal      *prometheus.CounterVec
	DurationSeconds    *prometheus.HistogramVec
	BackoffSeconds     *prometheus.HistogramVec
	FinalAttemptsTotal *prometheus.HistogramVec
}

func newRetryMetrics() *RetryMetrics {
	return &RetryMetrics{
		AttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total retry attempts by operation, outcome, and error type.",
		}, []string{"operation", "outcome", "error_type"}),
		DurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "retry",
			Name:      "duration_seconds",
			Help:      "Duration of a single retry attempt.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),
		BackoffSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "retry",
			Name:      "backoff_seconds",
			Help:      "Backoff delay before a retry attempt.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}, []string{"operation"}),
		FinalAttemptsTotal: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "retry",
			Name:      "final_attempts_total",
			Help:      "Number of attempts until final success or failure.",
			Buckets:   []float64{1, 2, 3, 4, 5, 10},
		}, []string{"operation", "outcome"}),
	}
}

func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, duration float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(operation, outcome, errorType).Inc()
	m.DurationSeconds.WithLabelValues(operation, outcome).Observe(duration)
}

func (m *RetryMetrics) RecordBackoff(operation string, delaySeconds float64) {
	if m == nil {
		return
	}
	m.BackoffSeconds.WithLabelValues(operation).Observe(delaySeconds)
}

func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.FinalAttemptsTotal.WithLabelValues(operation, outcome).Observe(float64(attempts))
}

// CircuitBreakerMetrics tracks circuit breaker state transitions, grounded on
// the teacher's internal/infrastructure/llm circuit breaker metrics.
type CircuitBreakerMetrics struct {
	State            prometheus.Gauge
	StateChanges     *prometheus.CounterVec
	Successes        prometheus.Counter
	Failures         prometheus.Counter
	SlowCalls        prometheus.Counter
	RequestsBlocked  prometheus.Counter
	HalfOpenRequests prometheus.Counter
	CallDuration     *prometheus.HistogramVec
}

func newCircuitBreakerMetrics() *CircuitBreakerMetrics {
	return &CircuitBreakerMetrics{
		State: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open).",
		}),
		StateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"from", "to"}),
		Successes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "successes_total",
			Help:      "Successful calls observed by the circuit breaker.",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "failures_total",
			Help:      "Failed calls observed by the circuit breaker.",
		}),
		SlowCalls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "slow_calls_total",
			Help:      "Calls exceeding the slow-call duration threshold.",
		}),
		RequestsBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "requests_blocked_total",
			Help:      "Requests rejected while the circuit was open.",
		}),
		HalfOpenRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "half_open_requests_total",
			Help:      "Test requests allowed through in half-open state.",
		}),
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nlsql_gateway",
			Subsystem: "llm_circuit_breaker",
			Name:      "call_duration_seconds",
			Help:      "Duration of calls observed by the circuit breaker.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}
