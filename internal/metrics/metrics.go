// Package metrics exposes Prometheus collectors for the book service.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBackoffSeconds        *prometheus.HistogramVec
	proxyFailoversTotal        prometheus.Counter
	unitsTotal                 *prometheus.CounterVec
	pageBytesTotal             *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	artifactsSweptTotal        prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; every
// Observe helper calls it first.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterforge_fetch_attempts_total",
				Help: "Unit fetch attempts, labeled by site and outcome kind.",
			},
			[]string{"site", "outcome"},
		)
		fetchBackoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chapterforge_fetch_backoff_seconds",
				Help:    "Backoff sleeps between unit fetch attempts, labeled by strategy.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"strategy"},
		)
		proxyFailoversTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chapterforge_proxy_failovers_total",
				Help: "Attempts retried immediately after switching to the fallback proxy.",
			},
		)
		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterforge_units_total",
				Help: "Units collected, labeled by result.",
			},
			[]string{"result"},
		)
		pageBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterforge_page_bytes_total",
				Help: "Bytes downloaded, labeled by site and renderer.",
			},
			[]string{"site", "renderer"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapterforge_jobs_total",
				Help: "Jobs finished, labeled by status.",
			},
			[]string{"status"},
		)
		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapterforge_active_jobs",
				Help: "Jobs currently processing.",
			},
		)
		artifactsSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chapterforge_artifacts_swept_total",
				Help: "Stale artifacts removed by the sweeper.",
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chapterforge_rate_limit_delays_seconds",
				Help:    "Histogram of per-host pacing waits.",
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

// SanitizeSite extracts a lowercase hostname, or "unknown".
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
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one unit fetch attempt.
func ObserveFetchAttempt(rawURL, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveBackoff records a retry sleep.
func ObserveBackoff(strategy string, d time.Duration) {
	Init()
	fetchBackoffSeconds.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveFailover counts a proxy failover retry.
func ObserveFailover() {
	Init()
	proxyFailoversTotal.Inc()
}

// ObserveUnit counts a collected unit ("ok" or "failed").
func ObserveUnit(result string) {
	Init()
	unitsTotal.WithLabelValues(result).Inc()
}

// ObservePage records downloaded bytes.
func ObservePage(rawURL, renderer string, size int) {
	Init()
	if size > 0 {
		pageBytesTotal.WithLabelValues(SanitizeSite(rawURL), renderer).Add(float64(size))
	}
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveSwept counts removed artifacts.
func ObserveSwept(n int) {
	Init()
	if n > 0 {
		artifactsSweptTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
