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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	timersExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_timers_executed_total",
			Help: "Timer executions by handler and outcome",
		},
		[]string{"class_name", "outcome"},
	)

	timerPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "courier_timer_poll_duration_seconds",
			Help:    "Time spent in one timer poll",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		},
	)

	timerLeaseSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_timer_lease_skips_total",
			Help: "Due timers skipped because another poller held their lease",
		},
	)

	digestsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_digests_sent_total",
			Help: "Digest emails handed to the mail transport",
		},
		[]string{"preference"},
	)

	digestsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_digests_skipped_total",
			Help: "Per-user digests skipped by reason",
		},
		[]string{"reason"},
	)

	digestsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_digests_failed_total",
			Help: "Per-user digests that failed to render or send",
		},
	)

	namespacesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_namespaces_skipped_total",
			Help: "Namespaces skipped by the digest pipeline by reason",
		},
		[]string{"reason"},
	)

	renderersMissing = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_renderers_missing_total",
			Help: "Digest entries rendered empty because no HTML renderer was available",
		},
	)

	typeCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_type_cache_lookups_total",
			Help: "Notification type cache lookups by result",
		},
		[]string{"result"},
	)

	mailSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_mail_sends_total",
			Help: "Mail transport calls by transport and status",
		},
		[]string{"transport", "status"},
	)

	notificationsPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_notifications_purged_total",
			Help: "User notifications removed by retention",
		},
	)

	pollTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_poll_triggers_total",
			Help: "Poll trigger messages consumed from SQS by status",
		},
		[]string{"status"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Timer execution outcomes.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeRescheduled = "rescheduled"
	OutcomeFailed      = "failed"
	OutcomeUnresolved  = "unresolved"
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTimerExecuted records one timer execution.
func RecordTimerExecuted(className, outcome string) {
	timersExecuted.WithLabelValues(className, outcome).Inc()
}

// ObserveTimerPoll records the duration of one poll.
func ObserveTimerPoll(d time.Duration) {
	timerPollDuration.Observe(d.Seconds())
}

// RecordTimerLeaseSkip records a timer skipped because it was leased elsewhere.
func RecordTimerLeaseSkip() {
	timerLeaseSkips.Inc()
}

// RecordDigestSent records a digest handed to the transport.
func RecordDigestSent(preference string) {
	digestsSent.WithLabelValues(preference).Inc()
}

// RecordDigestSkipped records a per-user digest that was not sent.
func RecordDigestSkipped(reason string) {
	digestsSkipped.WithLabelValues(reason).Inc()
}

// RecordDigestFailed records a per-user digest failure.
func RecordDigestFailed() {
	digestsFailed.Inc()
}

// RecordNamespaceSkipped records a namespace the pipeline did not process.
func RecordNamespaceSkipped(reason string) {
	namespacesSkipped.WithLabelValues(reason).Inc()
}

// RecordRendererMissing records an entry rendered empty.
func RecordRendererMissing() {
	renderersMissing.Inc()
}

// RecordTypeCacheHit records a notification type cache hit.
func RecordTypeCacheHit() {
	typeCacheLookups.WithLabelValues("hit").Inc()
}

// RecordTypeCacheMiss records a notification type cache miss.
func RecordTypeCacheMiss() {
	typeCacheLookups.WithLabelValues("miss").Inc()
}

// RecordMailSend records a transport call.
func RecordMailSend(transport, status string) {
	mailSends.WithLabelValues(transport, status).Inc()
}

// RecordNotificationsPurged adds n purged records.
func RecordNotificationsPurged(n int64) {
	notificationsPurged.Add(float64(n))
}

// RecordPollTrigger records a consumed poll trigger.
func RecordPollTrigger(status string) {
	pollTriggers.WithLabelValues(status).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
