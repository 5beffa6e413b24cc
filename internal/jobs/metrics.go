package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	mismatches prometheus.Counter
	mismatched prometheus.Gauge
	cleaned    prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveIntegrity records the accounts found out of balance by one check.
// The gauge holds the latest result, the counter accumulates detections.
func (m *Metrics) ObserveIntegrity(mismatched int) {
	if m == nil {
		return
	}
	m.mismatched.Set(float64(mismatched))
	if mismatched > 0 {
		m.mismatches.Add(float64(mismatched))
	}
}

// AddCleanedKeys counts idempotency keys removed by the cleanup job.
func (m *Metrics) AddCleanedKeys(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleaned.Add(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "okash_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "okash_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "okash_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	mismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "okash_ledger_integrity_mismatches_total",
		Help: "Accounts detected with a balance that disagrees with their completed transactions.",
	})
	mismatched := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "okash_ledger_mismatched_accounts",
		Help: "Accounts out of balance in the most recent integrity check.",
	})
	cleaned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "okash_idempotency_keys_cleaned_total",
		Help: "Expired idempotency keys removed by the cleanup job.",
	})
	registerer.MustRegister(runs, failures, duration, mismatches, mismatched, cleaned)
	return &Metrics{
		runs:       runs,
		failures:   failures,
		duration:   duration,
		mismatches: mismatches,
		mismatched: mismatched,
		cleaned:    cleaned,
	}
}
