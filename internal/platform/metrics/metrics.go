package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Certificate operations by operation and outcome
	Operations *prometheus.CounterVec
	// Lifecycle transitions by from/to status
	Transitions *prometheus.CounterVec
	// Latency of external calls by system and operation
	UpstreamLatency *prometheus.HistogramVec
	// Circuit breaker state by breaker (0 closed, 1 open, 2 half-open)
	BreakerState *prometheus.GaugeVec
	// Idempotency guard decisions
	IdempotencyDecisions *prometheus.CounterVec
	// Registry cache hits and misses
	RegistryCache *prometheus.CounterVec
	// Audit outbox rows published
	OutboxPublished prometheus.Counter
	// Scheduled job runs by job and result
	JobRuns *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certo_certificate_operations_total",
			Help: "Certificate operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certo_certificate_transitions_total",
			Help: "Certificate lifecycle transitions",
		}, []string{"from", "to"}),

		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certo_upstream_duration_seconds",
			Help:    "Duration of registry and issuer calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"system", "operation"}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certo_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),

		IdempotencyDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certo_idempotency_decisions_total",
			Help: "Idempotency guard decisions",
		}, []string{"decision"}),

		RegistryCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certo_registry_cache_total",
			Help: "Registry lookup cache results",
		}, []string{"result"}),

		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "certo_audit_outbox_published_total",
			Help: "Audit outbox entries published to Kafka",
		}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certo_job_runs_total",
			Help: "Scheduled job runs by job and result",
		}, []string{"job", "result"}),
	}
}

func (m *Metrics) IncOperation(operation, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

// ObserveUpstream records the duration of an external call.
func (m *Metrics) ObserveUpstream(system, operation string, d time.Duration) {
	if m != nil {
		m.UpstreamLatency.WithLabelValues(system, operation).Observe(d.Seconds())
	}
}

func (m *Metrics) SetBreakerState(breaker string, state int) {
	if m != nil {
		m.BreakerState.WithLabelValues(breaker).Set(float64(state))
	}
}

func (m *Metrics) IncIdempotency(decision string) {
	if m != nil {
		m.IdempotencyDecisions.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) IncRegistryCache(result string) {
	if m != nil {
		m.RegistryCache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AddOutboxPublished(n int) {
	if m != nil {
		m.OutboxPublished.Add(float64(n))
	}
}

func (m *Metrics) IncJobRun(job, result string) {
	if m != nil {
		m.JobRuns.WithLabelValues(job, result).Inc()
	}
}
