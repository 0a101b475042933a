package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

const namespace = "agrirag"

// HTTPServerMetrics holds the api process registry: HTTP traffic, search
// outcomes, embedding cache and upstream resilience counters.
type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rateLimited     *prometheus.CounterVec

	searchTotal       *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	searchResults     *prometheus.HistogramVec
	isolationDropped  *prometheus.CounterVec
	embeddingCache    *prometheus.CounterVec
	upstreamRetries   *prometheus.CounterVec
	breakerTransition *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	m := &HTTPServerMetrics{
		service:  service,
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"service", "method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method", "path"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-cooperative rate limiter.",
		}, []string{"service"}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by mode and outcome.",
		}, []string{"service", "mode", "outcome"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"service", "mode"}),
		searchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Results returned per successful search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		}, []string{"service", "mode"}),
		isolationDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "isolation_dropped_total",
			Help:      "Candidates removed because they belong to another cooperative.",
		}, []string{"service", "retriever"}),
		embeddingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses.",
		}, []string{"result"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Retried upstream calls by operation.",
		}, []string{"operation"}),
		breakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes by operation.",
		}, []string{"operation", "to"}),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
		m.rateLimited,
		m.searchTotal,
		m.searchDuration,
		m.searchResults,
		m.isolationDropped,
		m.embeddingCache,
		m.upstreamRetries,
		m.breakerTransition,
	)
	return m
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(m.service, r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case path == "/v1/reports/export", path == "/v1/reports/stats":
		return path
	case strings.HasPrefix(path, "/v1/reports/"):
		return "/v1/reports/{id}"
	case strings.HasPrefix(path, "/v1/uploads/"):
		return "/v1/uploads/{id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRateLimited() {
	m.rateLimited.WithLabelValues(m.service).Inc()
}

// ObserveSearch records mode and outcome only; tenant and user ids stay out
// of label sets.
func (m *HTTPServerMetrics) ObserveSearch(event domain.SearchEvent) {
	modeLabel := string(event.Mode)
	if modeLabel == "" {
		modeLabel = "unknown"
	}
	m.searchTotal.WithLabelValues(m.service, modeLabel, event.Outcome).Inc()
	m.searchDuration.WithLabelValues(m.service, modeLabel).Observe(event.Elapsed.Seconds())
	if event.Outcome == "ok" {
		m.searchResults.WithLabelValues(m.service, modeLabel).Observe(float64(event.Results))
	}
}

func (m *HTTPServerMetrics) ObserveIsolationDropped(retriever domain.RetrieverType, dropped int) {
	if dropped <= 0 {
		return
	}
	m.isolationDropped.WithLabelValues(m.service, string(retriever)).Add(float64(dropped))
}

// EmbeddingCacheCounter is handed to the embedding cache decorator.
func (m *HTTPServerMetrics) EmbeddingCacheCounter() *prometheus.CounterVec {
	return m.embeddingCache
}

func (m *HTTPServerMetrics) RecordRetry(operation string, _ int) {
	m.upstreamRetries.WithLabelValues(operation).Inc()
}

func (m *HTTPServerMetrics) RecordBreakerTransition(operation, _ string, to string) {
	m.breakerTransition.WithLabelValues(operation, to).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
