// Package metrics exposes Prometheus collectors for the live graph service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	engineRunsTotal               *prometheus.CounterVec
	publishesTotal                prometheus.Counter
	mirrorSyncsTotal              *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livegraph_pages_total",
				Help: "Total number of pages fetched, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "livegraph_active_workers",
				Help: "Number of crawl workers currently processing a page.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "livegraph_rate_limit_delays_seconds",
				Help:    "Histogram of per-host pacing wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		engineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livegraph_engine_runs_total",
				Help: "Total number of engine runs, labeled by slot and status.",
			},
			[]string{"slot", "status"},
		)

		publishesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "livegraph_publishes_total",
				Help: "Total number of primary document publishes.",
			},
		)

		mirrorSyncsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livegraph_mirror_syncs_total",
				Help: "Total number of mirror sync attempts, labeled by status.",
			},
			[]string{"status"},
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

// ObservePage increments the page counter for the given fetch result.
func ObservePage(site string, result string) {
	crawlerPagesTotal.WithLabelValues(SanitizeSite(site), result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveEngineRun increments the engine run counter for the slot.
func ObserveEngineRun(slot string, status string) {
	engineRunsTotal.WithLabelValues(slot, status).Inc()
}

// ObservePublish increments the publish counter.
func ObservePublish() {
	publishesTotal.Inc()
}

// ObserveMirrorSync increments the mirror sync counter for the status.
func ObserveMirrorSync(status string) {
	mirrorSyncsTotal.WithLabelValues(status).Inc()
}
