// Package metrics exposes Prometheus collectors for the archiving pipeline.
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
	itemsDiscoveredTotal       *prometheus.CounterVec
	documentsDownloadedTotal   *prometheus.CounterVec
	documentsPublishedTotal    *prometheus.CounterVec
	downloadBytesTotal         *prometheus.CounterVec
	pipelineRunsTotal          *prometheus.CounterVec
	phaseDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexarc_items_discovered_total",
				Help: "Total number of items discovered, labeled by source.",
			},
			[]string{"source"},
		)

		documentsDownloadedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexarc_documents_downloaded_total",
				Help: "Total number of document download attempts, labeled by source and outcome.",
			},
			[]string{"source", "status"},
		)

		documentsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexarc_documents_published_total",
				Help: "Total number of document publish attempts, labeled by source and outcome.",
			},
			[]string{"source", "status"},
		)

		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexarc_download_bytes_total",
				Help: "Total number of document bytes downloaded, labeled by source.",
			},
			[]string{"source"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lexarc_pipeline_runs_total",
				Help: "Total number of pipeline runs, labeled by source and outcome.",
			},
			[]string{"source", "status"},
		)

		phaseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexarc_phase_duration_seconds",
				Help:    "Histogram of pipeline phase durations, labeled by source and phase.",
				Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"source", "phase"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lexarc_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveDiscovered adds to the discovery counter for a source.
func ObserveDiscovered(source string, count int) {
	if count > 0 {
		itemsDiscoveredTotal.WithLabelValues(source).Add(float64(count))
	}
}

// ObserveDownload records one download attempt and its byte volume.
func ObserveDownload(source, status string, bytes int) {
	documentsDownloadedTotal.WithLabelValues(source, status).Inc()
	if bytes > 0 {
		downloadBytesTotal.WithLabelValues(source).Add(float64(bytes))
	}
}

// ObservePublish records one publish attempt.
func ObservePublish(source, status string) {
	documentsPublishedTotal.WithLabelValues(source, status).Inc()
}

// ObserveRun records a completed pipeline run.
func ObserveRun(source, status string) {
	pipelineRunsTotal.WithLabelValues(source, status).Inc()
}

// ObservePhase records the duration of one pipeline phase.
func ObservePhase(source, phase string, duration time.Duration) {
	phaseDurationSeconds.WithLabelValues(source, phase).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
