package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rentlane"

// HTTP metrics for the worker's health, readiness and scrape endpoints.
var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of worker HTTP requests.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "code"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Worker HTTP requests by method and status code.",
		},
		[]string{"method", "code"},
	)
)

// Database metrics
var (
	// DBTransactionDuration tracks transaction duration by operation label.
	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_transaction_duration_seconds",
			Help:      "Duration of database transactions in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// DBSerializationRetries counts transactions retried after a serialization failure.
	DBSerializationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_serialization_retries_total",
			Help:      "Total number of transactions retried after a serialization failure",
		},
		[]string{"operation"},
	)
)

// Business metrics
var (
	// IdempotencyCacheHits counts cache hits for idempotency lookups.
	IdempotencyCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_cache_hits_total",
			Help:      "Total number of idempotency cache hits",
		},
	)

	// ReservationsCreated counts reservations created.
	ReservationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Total number of reservations created",
		},
	)

	// ReservationTransitions counts committed status transitions.
	ReservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Total number of committed reservation status transitions",
		},
		[]string{"from", "to"},
	)

	// ExpiryOutcomes counts expiry job results by action and reason.
	ExpiryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_expiry_outcomes_total",
			Help:      "Total number of expiry attempts by outcome",
		},
		[]string{"action", "reason"},
	)

	// WalletCredits counts check-in wallet credits by result.
	WalletCredits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_credits_total",
			Help:      "Total number of check-in wallet credit attempts",
		},
		[]string{"result"},
	)

	// SideEffectFailures counts failed post-commit steps.
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_commit_failures_total",
			Help:      "Total number of failed best-effort post-commit steps",
		},
		[]string{"step"},
	)

	// JobRuns counts scheduled job executions by job and result.
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_job_runs_total",
			Help:      "Total number of scheduled job executions",
		},
		[]string{"job", "result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments next with the HTTP metrics. Scrapes of /metrics are
// passed through uninstrumented.
func Middleware(next http.Handler) http.Handler {
	instrumented := promhttp.InstrumentHandlerDuration(HTTPRequestDuration,
		promhttp.InstrumentHandlerCounter(HTTPRequestsTotal, next))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		instrumented.ServeHTTP(w, r)
	})
}

// RecordTransactionDuration records a transaction duration.
func RecordTransactionDuration(operation string, duration time.Duration) {
	DBTransactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSerializationRetry increments the retry counter for an operation.
func RecordSerializationRetry(operation string) {
	DBSerializationRetries.WithLabelValues(operation).Inc()
}

// RecordIdempotencyCacheHit increments the cache hit counter.
func RecordIdempotencyCacheHit() {
	IdempotencyCacheHits.Inc()
}

// RecordReservationCreated increments the reservation counter.
func RecordReservationCreated() {
	ReservationsCreated.Inc()
}

// RecordTransition increments the transition counter.
func RecordTransition(from, to string) {
	ReservationTransitions.WithLabelValues(from, to).Inc()
}

// RecordExpiry records the outcome of an expiry attempt.
func RecordExpiry(action, reason string) {
	ExpiryOutcomes.WithLabelValues(action, reason).Inc()
}

// RecordWalletCredit records a wallet credit attempt ("credited" or "already_credited").
func RecordWalletCredit(result string) {
	WalletCredits.WithLabelValues(result).Inc()
}

// RecordSideEffectFailure increments the failure counter for a post-commit step.
func RecordSideEffectFailure(step string) {
	SideEffectFailures.WithLabelValues(step).Inc()
}

// RecordJobRun records a scheduled job execution.
func RecordJobRun(job, result string) {
	JobRuns.WithLabelValues(job, result).Inc()
}
