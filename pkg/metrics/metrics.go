package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksActive is the number of tasks currently non-terminal on this
	// replica, by status (spec.md §4.4's RUNNING/INITIALIZING states).
	TasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crucible_tasks_active",
			Help: "Number of non-terminal tasks by status",
		},
		[]string{"status"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	// TaskPhaseDuration times each of PREPARE/LAUNCH/OBSERVE/TERMINATE
	// (spec.md §4.4.2's four-phase worker pipeline) per package runtime.
	TaskPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_task_phase_duration_seconds",
			Help:    "Time spent in each worker pipeline phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase", "runtime"},
	)

	// IngressRequestDuration times the execution-request HTTP surface
	// (C7), by route.
	IngressRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_ingress_request_duration_seconds",
			Help:    "Execution API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)

	// ReconciliationDuration times a pass of engine.Reconcile (spec.md
	// §4.4.5).
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crucible_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationOrphansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_reconciliation_orphans_total",
			Help: "Total number of orphaned pods deleted during reconciliation",
		},
	)

	// ProxyBackendResolveDuration times pkg/proxy's cache-then-store
	// backend lookup (C6).
	ProxyBackendResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_proxy_backend_resolve_duration_seconds",
			Help:    "Time taken to resolve a task's proxy backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel", "cache_hit"},
	)
)

func init() {
	prometheus.MustRegister(TasksActive)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TaskPhaseDuration)
	prometheus.MustRegister(IngressRequestDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationOrphansTotal)
	prometheus.MustRegister(ProxyBackendResolveDuration)
}

// Handler returns the Prometheus HTTP handler.
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
