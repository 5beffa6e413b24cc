package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics served on /metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	Ledger          *LedgerMetrics
}

// NewMetrics initialises the registry with HTTP and ledger collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "okash_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "okash_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(requests, duration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		Ledger:          NewLedgerMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// LedgerMetrics observes transaction engine outcomes.
type LedgerMetrics struct {
	transactions *prometheus.CounterVec
	volume       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewLedgerMetrics registers the ledger collectors on registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "okash_ledger_transactions_total",
		Help: "Submitted transactions by type and outcome.",
	}, []string{"type", "outcome"})
	volume := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "okash_ledger_volume_minor_units_total",
		Help: "Amount moved by completed transactions, in minor currency units.",
	}, []string{"type"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "okash_ledger_transaction_duration_seconds",
		Help:    "Time spent applying a transaction, commit included.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"type"})
	registerer.MustRegister(transactions, volume, duration)
	return &LedgerMetrics{transactions: transactions, volume: volume, duration: duration}
}

// ObserveTransaction records one submission.
func (l *LedgerMetrics) ObserveTransaction(txType, outcome string, amount int64, took time.Duration) {
	if l == nil {
		return
	}
	l.transactions.WithLabelValues(txType, outcome).Inc()
	l.duration.WithLabelValues(txType).Observe(took.Seconds())
	if outcome == "completed" && amount > 0 {
		l.volume.WithLabelValues(txType).Add(float64(amount))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
