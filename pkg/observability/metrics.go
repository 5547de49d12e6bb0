package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/billingportal/pkg/portal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Portal flow metrics
	SessionRequestsTotal *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec

	// Rate limiting
	RateLimitedTotal prometheus.Counter

	// Customer lookup cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Redis metrics
	RedisCommandsTotal *prometheus.CounterVec
}

var (
	_ portal.Recorder = (*Metrics)(nil)
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(16, 4, 6),
			},
			[]string{"method", "path"},
		),

		SessionRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_session_requests_total",
				Help: "Portal session requests by outcome and fault",
			},
			[]string{"outcome", "fault"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_stage_duration_seconds",
				Help:    "Duration of each external call in the portal flow",
				Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage", "result"},
		),

		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),

		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_customer_cache_hits_total",
				Help: "Customer lookups served from cache",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_customer_cache_misses_total",
				Help: "Customer lookups that went to the billing provider",
			},
		),

		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SessionRequestsTotal,
		m.StageDuration,
		m.RateLimitedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RedisCommandsTotal,
	)

	return m
}

// ObserveStage records the duration of one external call
func (m *Metrics) ObserveStage(stage portal.Stage, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StageDuration.WithLabelValues(string(stage), result).Observe(duration.Seconds())
}

// ObserveOutcome counts a finished portal request. A nil error is a success.
func (m *Metrics) ObserveOutcome(err *portal.AccessError) {
	if err == nil {
		m.SessionRequestsTotal.WithLabelValues("success", "none").Inc()
		return
	}
	m.SessionRequestsTotal.WithLabelValues(string(err.Kind), string(err.Fault)).Inc()
}

// RateLimited counts a rejected request
func (m *Metrics) RateLimited() {
	m.RateLimitedTotal.Inc()
}

// CacheHit counts a customer lookup served from cache
func (m *Metrics) CacheHit() {
	m.CacheHitsTotal.Inc()
}

// CacheMiss counts a customer lookup that reached the provider
func (m *Metrics) CacheMiss() {
	m.CacheMissesTotal.Inc()
}

// RedisCommand counts a Redis command by status
func (m *Metrics) RedisCommand(command string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RedisCommandsTotal.WithLabelValues(command, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			path := metricPath(r.URL.Path)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// knownPaths keeps the path label bounded; anything else is reported as "other"
var knownPaths = map[string]bool{
	"/customer-portal":              true,
	"/functions/v1/customer-portal": true,
}

func metricPath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
