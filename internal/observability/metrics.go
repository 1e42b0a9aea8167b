package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/stockflow/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsTotal     *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	importRows      *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockflow_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockflow_events_total",
		Help: "Consumed stock events by terminal outcome.",
	}, []string{"outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockflow_ingest_retries_total",
		Help: "Retries of events that hit a ledger or store failure.",
	})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockflow_ingest_batch_size",
		Help:    "Messages per committed ingestion batch.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockflow_ingest_batch_duration_seconds",
		Help:    "Time from batch fetch to offset commit.",
		Buckets: prometheus.DefBuckets,
	})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockflow_import_rows_total",
		Help: "Bulk import rows by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, events, retries, batchSize, batchDuration, importRows)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		eventsTotal:     events,
		retriesTotal:    retries,
		batchSize:       batchSize,
		batchDuration:   batchDuration,
		importRows:      importRows,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// ObserveOutcome counts one event by outcome name.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one retry of a failed event.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// ObserveBatch records a committed batch.
func (m *Metrics) ObserveBatch(size int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	m.batchDuration.Observe(elapsed.Seconds())
}

// ObserveImport records the row results of one imported file.
func (m *Metrics) ObserveImport(published, rejected int) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues("published").Add(float64(published))
	m.importRows.WithLabelValues("rejected").Add(float64(rejected))
}

// Jobs returns the background job collectors registered on this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
