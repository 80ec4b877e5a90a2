// Package metrics exposes the Prometheus collectors used across the fleet
// control plane's background loops.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet reconciliation metrics
	InstancesLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetcore_instances_live",
			Help: "Live instance count by provider and region",
		},
		[]string{"provider", "region"},
	)

	InstancesDesired = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetcore_instances_desired",
			Help: "Desired instance count by provider and region",
		},
		[]string{"provider", "region"},
	)

	InstancesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_instances_created_total",
			Help: "Total instance create calls issued by provider and region",
		},
		[]string{"provider", "region"},
	)

	InstancesDestroyedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_instances_destroyed_total",
			Help: "Total instance destroy calls issued by provider and region",
		},
		[]string{"provider", "region"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetcore_reconciliation_ticks_total",
			Help: "Total number of reconciliation ticks completed",
		},
	)

	ReconciliationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_reconciliation_failures_total",
			Help: "Total reconciliation failures by provider and reason",
		},
		[]string{"provider", "reason"},
	)

	// Container Supervisor (Healer) metrics
	ContainersHealedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "containers_healed_total",
			Help: "Total number of containers restarted or recreated by the supervisor",
		},
	)

	HealingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_healing_events_total",
			Help: "Total healing events by kind",
		},
		[]string{"kind"},
	)

	HealAttemptsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetcore_heal_attempts",
			Help: "Current heal attempt count per container",
		},
		[]string{"container_id"},
	)

	SupervisorPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_supervisor_poll_duration_seconds",
			Help:    "Time taken for one Supervisor poll loop iteration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rollout Executor metrics
	RolloutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_rollouts_total",
			Help: "Total number of rollouts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	RolloutStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetcore_rollout_step_duration_seconds",
			Help:    "Duration of a single rollout step by strategy",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	// Health-Check Scheduler metrics
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_probes_total",
			Help: "Total health probes executed by check type and result",
		},
		[]string{"type", "result"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetcore_probe_duration_seconds",
			Help:    "Health probe duration in seconds by check type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	WorkerAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetcore_worker_available",
			Help: "Worker availability as last written to the liveness store (1 = available)",
		},
		[]string{"worker_id", "region"},
	)

	// Provider Adapter metrics
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_provider_requests_total",
			Help: "Total provider API calls by provider, operation, and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetcore_provider_request_duration_seconds",
			Help:    "Provider API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// API surface metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetcore_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		InstancesLive,
		InstancesDesired,
		InstancesCreatedTotal,
		InstancesDestroyedTotal,
		ReconciliationDuration,
		ReconciliationTicksTotal,
		ReconciliationFailuresTotal,
		ContainersHealedTotal,
		HealingEventsTotal,
		HealAttemptsGauge,
		SupervisorPollDuration,
		RolloutsTotal,
		RolloutStepDuration,
		ProbesTotal,
		ProbeDuration,
		WorkerAvailable,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler serving the exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
