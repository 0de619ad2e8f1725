package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters
	LoginCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rederma_login_total",
			Help: "Total number of login attempts",
		},
	)

	// Registration counters
	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rederma_register_total",
			Help: "Total number of account registrations",
		},
	)

	// Submission counter
	SubmissionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rederma_submissions_total",
			Help: "Total number of analysis submissions created",
		},
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rederma_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rederma_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"}, // type can be "login_failure", "invalid_token", "db_error" etc.
	)

	// Webhook event counter by event type
	WebhookEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rederma_billing_webhook_events_total",
			Help: "Total number of billing webhook events received",
		},
		[]string{"event_type"},
	)

	// GDPR operation counter
	GDPROperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rederma_gdpr_operations_total",
			Help: "Total number of GDPR operations",
		},
		[]string{"operation"}, // "consent", "export", "delete", "schedule", "cancel_schedule"
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rederma_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rederma_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "update", "delete"
	)

	// Upstream call duration by dependency
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rederma_upstream_duration_seconds",
			Help:    "Duration of external dependency calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dependency"}, // "blobstore", "analyzer", "billing"
	)
)

// Gauge metrics
var (
	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rederma_info",
			Help: "Information about the service",
		},
		[]string{"version"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(SubmissionCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(WebhookEventCounter)
	prometheus.MustRegister(GDPROperationCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(UpstreamDuration)

	// Register gauges
	prometheus.MustRegister(InfoGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// TrackUpstream measures external dependency call durations
func TrackUpstream(dependency string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		UpstreamDuration.With(prometheus.Labels{
			"dependency": dependency,
		}).Observe(duration)
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordWebhookEvent records a received billing webhook event by type
func RecordWebhookEvent(eventType string) {
	WebhookEventCounter.With(prometheus.Labels{"event_type": eventType}).Inc()
}

// RecordGDPROperation records a GDPR operation by kind
func RecordGDPROperation(operation string) {
	GDPROperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}
