package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ExecutionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aria_executions_total",
			Help: "Total number of executions by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aria_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aria_services_total",
			Help: "Total number of services",
		},
	)

	TasksRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aria_tasks_retried_total",
			Help: "Total number of task retries",
		},
	)

	TasksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aria_tasks_failed_total",
			Help: "Total number of terminally failed tasks",
		},
	)

	EngineCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aria_engine_cycle_duration_seconds",
			Help:    "Time taken for one workflow engine poll cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aria_execution_duration_seconds",
			Help:    "Time taken for a workflow execution to reach a terminal status",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"workflow_name", "status"},
	)

	TaskDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aria_task_dispatch_duration_seconds",
			Help:    "Time from a task becoming executable to being handed to an executor",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubprocessesSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aria_subprocesses_spawned_total",
			Help: "Total number of subprocess-executor child processes spawned",
		},
	)

	CtxProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aria_ctx_proxy_requests_total",
			Help: "Total number of ctx proxy requests by command and outcome",
		},
		[]string{"command", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(TasksRetriedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(EngineCycleDuration)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(TaskDispatchDuration)
	prometheus.MustRegister(SubprocessesSpawnedTotal)
	prometheus.MustRegister(CtxProxyRequestsTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
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
