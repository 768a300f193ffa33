package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	directorySearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_searches_total",
			Help: "Total number of directory catalog searches",
		},
		[]string{"catalog", "status"},
	)

	directorySearchesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_searches_skipped_total",
			Help: "Searches suppressed by the minimum query length gate",
		},
		[]string{"catalog"},
	)

	directorySearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directory_search_duration_seconds",
			Help:    "Directory catalog search duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"catalog"},
	)

	workflowSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workflow_sessions_active",
			Help: "Number of live prior-authorization workflow sessions",
		},
	)

	workflowMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_mutations_total",
			Help: "Total number of workflow form-state mutations",
		},
		[]string{"operation"},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Total number of draft/validate/submit operations",
		},
		[]string{"operation", "outcome"},
	)

	submissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "submission_duration_seconds",
			Help:    "Draft/validate/submit operation duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	draftsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drafts_saved_total",
			Help: "Total number of drafts persisted",
		},
	)

	notificationsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Total number of notifications emitted to host pages",
		},
		[]string{"type"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordDirectorySearch records a dispatched catalog search
func RecordDirectorySearch(catalog, status string, duration time.Duration) {
	directorySearches.WithLabelValues(catalog, status).Inc()
	directorySearchDuration.WithLabelValues(catalog).Observe(duration.Seconds())
}

// RecordDirectorySearchSkipped records a search suppressed by the length gate
func RecordDirectorySearchSkipped(catalog string) {
	directorySearchesSkipped.WithLabelValues(catalog).Inc()
}

// RecordSessionOpened records a workflow session being created
func RecordSessionOpened() {
	workflowSessionsActive.Inc()
}

// RecordSessionClosed records a workflow session being closed or expired
func RecordSessionClosed() {
	workflowSessionsActive.Dec()
}

// RecordWorkflowMutation records a form-state mutation
func RecordWorkflowMutation(operation string) {
	workflowMutations.WithLabelValues(operation).Inc()
}

// RecordSubmission records a draft/validate/submit attempt
func RecordSubmission(operation, outcome string, duration time.Duration) {
	submissions.WithLabelValues(operation, outcome).Inc()
	submissionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDraftSaved records a persisted draft
func RecordDraftSaved() {
	draftsSaved.Inc()
}

// RecordNotification records a notification emitted to the host page
func RecordNotification(notificationType string) {
	notificationsEmitted.WithLabelValues(notificationType).Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
