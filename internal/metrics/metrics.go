// Package metrics exposes Prometheus collectors for the ingestion service.
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
	fetchResultsTotal          *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	robotsBlockedTotal         *prometheus.CounterVec
	evidenceRecordsTotal       *prometheus.CounterVec
	connectorDurationSeconds   *prometheus.HistogramVec
	connectorRunsTotal         *prometheus.CounterVec
	activeConnectors           prometheus.Gauge
	oracleRequestsTotal        *prometheus.CounterVec
	oracleWaitSeconds          prometheus.Histogram
	priceChangesTotal          *prometheus.CounterVec
	trendAnomaliesTotal        prometheus.Counter
	proposalsTotal             *prometheus.CounterVec
	alertsPublishedTotal       prometheus.Counter
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
				Name: "evidence_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by site.",
			},
			[]string{"site"},
		)
		fetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_fetch_results_total",
				Help: "Total number of completed fetch cycles, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_fetch_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)
		robotsBlockedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_robots_blocked_total",
				Help: "Total number of fetches refused by robots.txt, labeled by site.",
			},
			[]string{"site"},
		)
		evidenceRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_records_total",
				Help: "Total number of evidence candidates processed, labeled by source and result.",
			},
			[]string{"source", "result"},
		)
		connectorDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evidence_connector_duration_seconds",
				Help:    "Histogram of connector run durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"source"},
		)
		connectorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_connector_runs_total",
				Help: "Total number of connector runs, labeled by health status.",
			},
			[]string{"status"},
		)
		activeConnectors = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "evidence_active_connectors",
				Help: "Number of connectors currently running.",
			},
		)
		oracleRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_oracle_requests_total",
				Help: "Total number of oracle calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)
		oracleWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evidence_oracle_rate_limit_wait_seconds",
				Help:    "Histogram of oracle pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
		priceChangesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_price_changes_total",
				Help: "Total number of price change events, labeled by severity.",
			},
			[]string{"severity"},
		)
		trendAnomaliesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "evidence_trend_anomalies_total",
				Help: "Total number of anomalies flagged by trend runs.",
			},
		)
		proposalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evidence_benchmark_proposals_total",
				Help: "Total number of benchmark proposals, labeled by recommendation.",
			},
			[]string{"recommendation"},
		)
		alertsPublishedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "evidence_alerts_published_total",
				Help: "Total number of alerts published downstream.",
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// ObserveFetchAttempt counts one outbound request.
func ObserveFetchAttempt(rawURL string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveFetchResult counts a completed fetch cycle.
func ObserveFetchResult(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchResultsTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRobotsBlocked counts a robots.txt refusal.
func ObserveRobotsBlocked(rawURL string) {
	Init()
	robotsBlockedTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRecord counts a processed candidate: created, duplicate, invalid or failed.
func ObserveRecord(sourceID, result string) {
	Init()
	evidenceRecordsTotal.WithLabelValues(sourceID, result).Inc()
}

// ObserveConnector records a connector run.
func ObserveConnector(sourceID, status string, duration time.Duration) {
	Init()
	connectorRunsTotal.WithLabelValues(status).Inc()
	connectorDurationSeconds.WithLabelValues(sourceID).Observe(duration.Seconds())
}

// IncActiveConnectors increments the active connectors gauge.
func IncActiveConnectors() {
	Init()
	activeConnectors.Inc()
}

// DecActiveConnectors decrements the active connectors gauge.
func DecActiveConnectors() {
	Init()
	activeConnectors.Dec()
}

// ObserveOracleRequest counts an oracle call.
func ObserveOracleRequest(provider, outcome string) {
	Init()
	oracleRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveOracleWait records time spent waiting on the oracle rate limiter.
func ObserveOracleWait(duration time.Duration) {
	Init()
	oracleWaitSeconds.Observe(duration.Seconds())
}

// ObservePriceChange counts a detected price change.
func ObservePriceChange(severity string) {
	Init()
	priceChangesTotal.WithLabelValues(severity).Inc()
}

// ObserveAnomalies adds flagged anomalies.
func ObserveAnomalies(n int) {
	Init()
	if n > 0 {
		trendAnomaliesTotal.Add(float64(n))
	}
}

// ObserveProposal counts a generated benchmark proposal.
func ObserveProposal(recommendation string) {
	Init()
	proposalsTotal.WithLabelValues(recommendation).Inc()
}

// ObserveAlertPublished counts a published alert.
func ObserveAlertPublished() {
	Init()
	alertsPublishedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
