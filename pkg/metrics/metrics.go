package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	StationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "station_registry_stations_total",
			Help: "Total number of known stations by liveness",
		},
		[]string{"live"},
	)

	ObjectsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "station_runtime_objects_loaded",
			Help: "Number of objects currently cached in the runtime",
		},
	)

	// HTTP surface metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_api_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "station_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Object execution metrics
	ObjectExecuteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "station_object_execute_duration_seconds",
			Help:    "Time taken to execute an object method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"object_id", "method"},
	)

	ObjectExecuteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_object_execute_failures_total",
			Help: "Total number of failed object method executions",
		},
		[]string{"object_id", "method"},
	)

	// Router metrics
	RouteForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_router_forwarded_total",
			Help: "Total number of requests forwarded to another station",
		},
		[]string{"kind"}, // "explicit" or "load_balanced"
	)

	RouteForwardFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "station_router_forward_failures_total",
			Help: "Total number of forwards that fell back to local execution",
		},
	)

	// Replication metrics
	ReplicationTasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_replication_tasks_submitted_total",
			Help: "Total number of replication tasks submitted to the pool",
		},
		[]string{"kind"}, // "state", "log", "file"
	)

	ReplicationTasksFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_replication_tasks_failed_total",
			Help: "Total number of replication tasks that exhausted all retries",
		},
		[]string{"kind"},
	)

	ReplicationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "station_replication_duration_seconds",
			Help:    "Time taken for a replication attempt to a peer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Scheduler metrics
	SchedulerCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "station_scheduler_periodic_cycles_total",
			Help: "Total number of in-process periodic scheduler sweeps",
		},
	)

	TaskRecordExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_task_record_executions_total",
			Help: "Total number of persistent task record executions by outcome",
		},
		[]string{"outcome"}, // "ok", "error"
	)
)

func init() {
	prometheus.MustRegister(StationsTotal)
	prometheus.MustRegister(ObjectsLoaded)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ObjectExecuteDuration)
	prometheus.MustRegister(ObjectExecuteFailures)
	prometheus.MustRegister(RouteForwardedTotal)
	prometheus.MustRegister(RouteForwardFailures)
	prometheus.MustRegister(ReplicationTasksSubmitted)
	prometheus.MustRegister(ReplicationTasksFailed)
	prometheus.MustRegister(ReplicationDuration)
	prometheus.MustRegister(SchedulerCyclesTotal)
	prometheus.MustRegister(TaskRecordExecutionsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
