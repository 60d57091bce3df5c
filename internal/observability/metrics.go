package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	engineDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Lifecycle metrics
	DeploymentsTotal   *prometheus.CounterVec
	UndeploymentsTotal *prometheus.CounterVec

	// Instance metrics
	InstanceStartsTotal  *prometheus.CounterVec
	TaskCompletionsTotal *prometheus.CounterVec

	// Business key metrics
	BusinessKeysGeneratedTotal *prometheus.CounterVec

	// Engine client metrics
	EngineRequestsTotal       *prometheus.CounterVec
	EngineRequestDuration     *prometheus.HistogramVec
	EngineCircuitBreakerState prometheus.Gauge

	// System metrics
	DefinitionsTotal prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prosa_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prosa_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prosa_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prosa_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Lifecycle
		DeploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prosa_deployments_total",
			Help: "Total number of version deploy attempts.",
		}, []string{"result"}),
		UndeploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prosa_undeployments_total",
			Help: "Total number of version undeploy attempts.",
		}, []string{"result"}),

		// Instances
		InstanceStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prosa_instance_starts_total",
			Help: "Total number of process instance start attempts.",
		}, []string{"result"}),
		TaskCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prosa_task_completions_total",
			Help: "Total number of task completion attempts.",
		}, []string{"decision", "result"}),

		// Business keys
		BusinessKeysGeneratedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prosa_business_keys_generated_total",
			Help: "Total number of business keys generated, by prefix.",
		}, []string{"prefix"}),

		// Engine
		EngineRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prosa_engine_requests_total",
			Help: "Total number of execution engine requests.",
		}, []string{"operation", "status"}),
		EngineRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prosa_engine_request_duration_seconds",
			Help:    "Execution engine request duration in seconds.",
			Buckets: engineDurationBuckets,
		}, []string{"operation"}),
		EngineCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prosa_engine_circuit_breaker_state",
			Help: "Engine circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		// System
		DefinitionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prosa_definitions_total",
			Help: "Number of process definitions in the store.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Lifecycle
		m.DeploymentsTotal,
		m.UndeploymentsTotal,
		// Instances
		m.InstanceStartsTotal,
		m.TaskCompletionsTotal,
		// Business keys
		m.BusinessKeysGeneratedTotal,
		// Engine
		m.EngineRequestsTotal,
		m.EngineRequestDuration,
		m.EngineCircuitBreakerState,
		// System
		m.DefinitionsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordDeployment records a deploy attempt.
func (m *Metrics) RecordDeployment(result string) {
	m.DeploymentsTotal.WithLabelValues(result).Inc()
}

// RecordUndeployment records an undeploy attempt.
func (m *Metrics) RecordUndeployment(result string) {
	m.UndeploymentsTotal.WithLabelValues(result).Inc()
}

// RecordInstanceStart records an instance start attempt.
func (m *Metrics) RecordInstanceStart(result string) {
	m.InstanceStartsTotal.WithLabelValues(result).Inc()
}

// RecordTaskCompletion records a task completion or rejection attempt.
func (m *Metrics) RecordTaskCompletion(decision, result string) {
	m.TaskCompletionsTotal.WithLabelValues(decision, result).Inc()
}

// RecordBusinessKey records a generated business key. The prefix label is
// bounded by the number of definitions, not by key volume.
func (m *Metrics) RecordBusinessKey(prefix string) {
	m.BusinessKeysGeneratedTotal.WithLabelValues(prefix).Inc()
}

// RecordEngineRequest records an execution engine request.
func (m *Metrics) RecordEngineRequest(operation string, status int, duration time.Duration) {
	m.EngineRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.EngineRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetEngineCircuitBreakerState sets the engine circuit breaker gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetEngineCircuitBreakerState(state float64) {
	m.EngineCircuitBreakerState.Set(state)
}

// SetDefinitionsTotal sets the number of stored definitions.
func (m *Metrics) SetDefinitionsTotal(count float64) {
	m.DefinitionsTotal.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
