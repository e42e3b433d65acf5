// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	bytesFetchedTotal          *prometheus.CounterVec
	itemsWrittenTotal          *prometheus.CounterVec
	itemsDuplicateTotal        *prometheus.CounterVec
	failuresTotal              *prometheus.CounterVec
	identityRotationsTotal     *prometheus.CounterVec
	sessionRestartsTotal       *prometheus.CounterVec
	unitsCompletedTotal        *prometheus.CounterVec
	quotaFilledTotal           *prometheus.CounterVec
	unitDurationSeconds        *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_fetched_total",
				Help: "Pages fetched, labeled by source and HTTP status.",
			},
			[]string{"source", "status"},
		)
		bytesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_bytes_fetched_total",
				Help: "Bytes fetched, labeled by source.",
			},
			[]string{"source"},
		)
		itemsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_written_total",
				Help: "Items appended to the output sink.",
			},
			[]string{"source"},
		)
		itemsDuplicateTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_duplicate_total",
				Help: "Items dropped because the sink already held them.",
			},
			[]string{"source"},
		)
		failuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_failures_total",
				Help: "Failed fetch attempts, labeled by source and failure kind.",
			},
			[]string{"source", "kind"},
		)
		identityRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_identity_rotations_total",
				Help: "Identity rotations triggered by challenges.",
			},
			[]string{"source"},
		)
		sessionRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_session_restarts_total",
				Help: "Fetch session restarts.",
			},
			[]string{"source"},
		)
		unitsCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_units_completed_total",
				Help: "Work units checkpointed as complete.",
			},
			[]string{"source"},
		)
		quotaFilledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_quota_filled_total",
				Help: "Work units that reached their item cap.",
			},
			[]string{"source"},
		)
		unitDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_unit_duration_seconds",
				Help:    "Wall time spent on one work unit.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"source"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently walking a partition.",
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a fetched page.
func ObserveFetch(source string, status int, bytesFetched int) {
	Init()
	pagesFetchedTotal.WithLabelValues(source, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		bytesFetchedTotal.WithLabelValues(source).Add(float64(bytesFetched))
	}
}

// ObserveItem records a sink append; duplicate is true when the sink
// already held the item.
func ObserveItem(source string, duplicate bool) {
	Init()
	if duplicate {
		itemsDuplicateTotal.WithLabelValues(source).Inc()
		return
	}
	itemsWrittenTotal.WithLabelValues(source).Inc()
}

// ObserveFailure records a classified failure.
func ObserveFailure(source, kind string) {
	Init()
	failuresTotal.WithLabelValues(source, kind).Inc()
}

// ObserveRotation records an identity rotation.
func ObserveRotation(source string) {
	Init()
	identityRotationsTotal.WithLabelValues(source).Inc()
}

// ObserveRestart records a session restart.
func ObserveRestart(source string) {
	Init()
	sessionRestartsTotal.WithLabelValues(source).Inc()
}

// ObserveUnitCompleted records a checkpoint advance.
func ObserveUnitCompleted(source string) {
	Init()
	unitsCompletedTotal.WithLabelValues(source).Inc()
}

// ObserveUnitDuration records how long a unit took and whether it filled
// its quota.
func ObserveUnitDuration(source string, duration time.Duration, filled bool) {
	Init()
	unitDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	if filled {
		quotaFilledTotal.WithLabelValues(source).Inc()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a served API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
