// Package metrics exposes Prometheus collectors for the serial crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	sessionRotationsTotal      prometheus.Counter
	serialsTotal               *prometheus.CounterVec
	sessionsTotal              *prometheus.CounterVec
	frontierSerial             prometheus.Gauge
	watermarkSerial            prometheus.Gauge
	scanRate                   prometheus.Gauge
	rateLimitDelaysSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serialwatch_fetch_attempts_total",
				Help: "HTTP attempts issued against the source, labeled by result.",
			},
			[]string{"result"},
		)

		sessionRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serialwatch_session_rotations_total",
				Help: "Number of times the session identity was discarded after a block.",
			},
		)

		serialsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serialwatch_serials_total",
				Help: "Serials scanned, labeled by outcome (found, absent, skipped).",
			},
			[]string{"outcome"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serialwatch_sessions_total",
				Help: "Incremental sessions run, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		frontierSerial = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serialwatch_frontier_serial",
				Help: "Latest serial reported by the boundary locator.",
			},
		)

		watermarkSerial = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serialwatch_watermark_serial",
				Help: "Last confirmed serial persisted in the crawl state.",
			},
		)

		scanRate = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serialwatch_scan_rate",
				Help: "Serials per second observed at the last progress report.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serialwatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one HTTP attempt with its classified result.
func ObserveFetchAttempt(result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRotation counts a session identity rotation.
func ObserveRotation() {
	Init()
	sessionRotationsTotal.Inc()
}

// ObserveSerial counts one scanned serial by outcome.
func ObserveSerial(outcome string) {
	Init()
	serialsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSession counts a finished session.
func ObserveSession(mode, status string) {
	Init()
	sessionsTotal.WithLabelValues(mode, status).Inc()
}

// SetFrontier records the latest located serial.
func SetFrontier(serial int64) {
	Init()
	frontierSerial.Set(float64(serial))
}

// SetWatermark records the persisted last confirmed serial.
func SetWatermark(serial int64) {
	Init()
	watermarkSerial.Set(float64(serial))
}

// SetScanRate records the serials-per-second rate of the running scan.
func SetScanRate(rate float64) {
	Init()
	scanRate.Set(rate)
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
