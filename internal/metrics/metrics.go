package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_requests_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// Backend call metrics
	backendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_duration_seconds",
			Help:    "Backend API call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service", "operation", "status_code"},
	)

	// Registration flow metrics
	registrationTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_phase_transitions_total",
			Help: "Total number of registration phase transitions",
		},
		[]string{"from", "to"},
	)

	registrationSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registration_submissions_total",
			Help: "Total number of registration submissions by step and result",
		},
		[]string{"step", "result"}, // profile/otp, success/failure/rejected
	)

	registrationSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registration_sessions_active",
			Help: "Number of live registration form sessions",
		},
	)

	// Countdown stream metrics
	countdownStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "countdown_streams_active",
			Help: "Number of open countdown event streams",
		},
	)

	// Contact form metrics
	contactMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_messages_total",
			Help: "Total number of contact form submissions",
		},
		[]string{"status"},
	)

	// Rate limiting metrics
	rateLimitDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_dropped_total",
			Help: "Total number of requests dropped due to rate limiting",
		},
		[]string{"key_type"},
	)

	// Redis metrics
	redisOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	redisOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			backendCallDuration,
			registrationTransitionsTotal,
			registrationSubmissionsTotal,
			registrationSessionsActive,
			countdownStreamsActive,
			contactMessagesTotal,
			rateLimitDroppedTotal,
			redisOperationsTotal,
			redisOperationDuration,
		)
	})

	return nil
}

// HTTPMetricsMiddleware records HTTP metrics
func HTTPMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)

		return err
	}
}

// RecordBackendCall records metrics for backend API calls
func RecordBackendCall(service, operation string, statusCode int, duration time.Duration) {
	statusStr := strconv.Itoa(statusCode)
	backendCallDuration.WithLabelValues(service, operation, statusStr).Observe(duration.Seconds())
}

// RecordPhaseTransition records a registration phase change
func RecordPhaseTransition(from, to string) {
	registrationTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSubmission records the result of a registration step
func RecordSubmission(step, result string) {
	registrationSubmissionsTotal.WithLabelValues(step, result).Inc()
}

// SetActiveSessions sets the number of live registration sessions
func SetActiveSessions(n int) {
	registrationSessionsActive.Set(float64(n))
}

// CountdownStreamOpened and CountdownStreamClosed track open SSE streams
func CountdownStreamOpened() { countdownStreamsActive.Inc() }
func CountdownStreamClosed() { countdownStreamsActive.Dec() }

// RecordContactMessage records contact form submissions
func RecordContactMessage(status string) {
	contactMessagesTotal.WithLabelValues(status).Inc()
}

// RecordRateLimitDrop records rate limit drops
func RecordRateLimitDrop(keyType string) {
	rateLimitDroppedTotal.WithLabelValues(keyType).Inc()
}

// RecordRedisOperation records Redis operations
func RecordRedisOperation(operation, status string, duration time.Duration) {
	redisOperationsTotal.WithLabelValues(operation, status).Inc()
	redisOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}
