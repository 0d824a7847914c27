package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cfgvault"

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	backupRuns          *prometheus.CounterVec
	backupRunDuration   prometheus.Histogram
	deviceBackups       *prometheus.CounterVec
	searchRuns          prometheus.Counter
	searchMatches       prometheus.Histogram
	schedulerFires      *prometheus.CounterVec
	schedulerActions    *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests processed by core-go",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests served by core-go",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		backupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_runs_total",
			Help:      "Backup runs by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		backupRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_run_duration_seconds",
			Help:      "Duration of backup runs from authentication to the last worker exiting",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		deviceBackups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_backups_total",
			Help:      "Per-device backup outcomes; result is ok or the failure kind",
		}, []string{"result"}),
		searchRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_runs_total",
			Help:      "Total number of config searches",
		}),
		searchMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_result_backups",
			Help:      "Number of backups with at least one match per search",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500},
		}),
		schedulerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_triggers_fired_total",
			Help:      "Due job triggers by whether they were enqueued or skipped",
		}, []string{"result"}),
		schedulerActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_actions_total",
			Help:      "Job mailbox actions applied by the scheduler",
		}, []string{"action"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpRequestDuration,
		m.backupRuns,
		m.backupRunDuration,
		m.deviceBackups,
		m.searchRuns,
		m.searchMatches,
		m.schedulerFires,
		m.schedulerActions,
	)
	return m
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveBackupRun records a finished run. trigger is "manual" or "scheduled".
func (m *Metrics) ObserveBackupRun(trigger string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	m.backupRuns.WithLabelValues(trigger, outcome).Inc()
	m.backupRunDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncDeviceBackup(result string) {
	if m == nil {
		return
	}
	m.deviceBackups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSearch(results int) {
	if m == nil {
		return
	}
	m.searchRuns.Inc()
	m.searchMatches.Observe(float64(results))
}

func (m *Metrics) IncSchedulerFire(result string) {
	if m == nil {
		return
	}
	m.schedulerFires.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSchedulerAction(action string) {
	if m == nil {
		return
	}
	m.schedulerActions.WithLabelValues(action).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
