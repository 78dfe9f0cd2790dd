package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Sync metrics
	SyncDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_sync_dispatches_total",
			Help: "Mirror dispatch outcomes by resulting sync status",
		},
		[]string{"status"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "journal_sync_duration_seconds",
			Help:    "Time spent in the mirror call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)

	SyncInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "journal_sync_in_flight",
			Help: "Dispatches currently running",
		},
	)

	// Transcription metrics
	TranscriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_transcriptions_total",
			Help: "Transcription proxy calls by result",
		},
		[]string{"result"},
	)

	// Security metrics
	SecurityAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_security_alerts_total",
			Help: "Security alert thresholds crossed by event",
		},
		[]string{"event", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SyncDispatchesTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncInFlight)
	prometheus.MustRegister(TranscriptionsTotal)
	prometheus.MustRegister(SecurityAlertsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one served request. Path ids and dates are folded so
// the route label stays low-cardinality.
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	route := Route(path)
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Route replaces numeric and date path segments with placeholders.
func Route(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		switch {
		case part == "":
		case isDigits(part):
			parts[i] = ":id"
		case len(part) == 10 && part[4] == '-' && part[7] == '-' && isDigits(part[:4]+part[5:7]+part[8:]):
			parts[i] = ":date"
		}
	}
	return strings.Join(parts, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since NewTimer.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
