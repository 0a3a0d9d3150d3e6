// Package metrics exposes Prometheus collectors for the HR API client, the
// fetch pipeline and the job manager. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clocksheet"

// Metrics groups every collector the service publishes.
type Metrics struct {
	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
	apiRetries    *prometheus.CounterVec
	pagesFetched  *prometheus.CounterVec
	pagesMissing  *prometheus.CounterVec
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobsRunning   prometheus.Gauge
	filesEvicted  prometheus.Counter
	activityCache *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HR API requests by resource and outcome.",
		}, []string{"resource", "outcome"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "HR API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "HR API retry attempts by resource.",
		}, []string{"resource"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages retrieved by fetch mode.",
		}, []string{"mode"}),
		pagesMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_missing_total",
			Help:      "Pages that failed and were replaced by empty pages.",
		}, []string{"mode"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_jobs_total",
			Help:      "Finished report jobs by status and strategy.",
		}, []string{"status", "strategy"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_job_duration_seconds",
			Help:      "Report generation wall time.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"strategy"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_jobs_running",
			Help:      "Report jobs currently processing in this process.",
		}),
		filesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_files_evicted_total",
			Help:      "Report files removed by the retention limit.",
		}),
		activityCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_cache_lookups_total",
			Help:      "Activity type lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiDuration, m.apiRetries,
		m.pagesFetched, m.pagesMissing,
		m.jobsTotal, m.jobDuration, m.jobsRunning,
		m.filesEvicted, m.activityCache,
	)
	return m
}

// ObserveRequest records one finished HR API call.
func (m *Metrics) ObserveRequest(resource, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(resource, outcome).Inc()
	m.apiDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// IncRetry counts a retry attempt.
func (m *Metrics) IncRetry(resource string) {
	if m == nil {
		return
	}
	m.apiRetries.WithLabelValues(resource).Inc()
}

// AddPages counts fetched and missing pages for a fetch mode.
func (m *Metrics) AddPages(mode string, fetched, missing int) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(mode).Add(float64(fetched))
	if missing > 0 {
		m.pagesMissing.WithLabelValues(mode).Add(float64(missing))
	}
}

// JobStarted tracks a job entering processing.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsRunning.Inc()
}

// JobFinished records a job's terminal status and duration.
func (m *Metrics) JobFinished(status, strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsRunning.Dec()
	m.jobsTotal.WithLabelValues(status, strategy).Inc()
	m.jobDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// AddEvicted counts files removed by retention.
func (m *Metrics) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.filesEvicted.Add(float64(n))
}

// CacheLookup records an activity type lookup as "hit" or "miss".
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.activityCache.WithLabelValues(result).Inc()
}
