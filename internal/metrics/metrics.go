// Package metrics exposes Prometheus collectors for the snapfetch service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal        *prometheus.CounterVec
	rendersTotal        *prometheus.CounterVec
	renderRejectedTotal *prometheus.CounterVec
	jobsTotal           *prometheus.CounterVec
	itemDurationSeconds *prometheus.HistogramVec
	activeWorkers       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapfetch_fetches_total",
				Help: "Total number of URL fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapfetch_renders_total",
				Help: "Total number of headless operations, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		renderRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapfetch_render_rejected_total",
				Help: "Total render permit rejections due to capacity, labeled by kind.",
			},
			[]string{"kind"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapfetch_jobs_total",
				Help: "Total number of batch jobs reaching a terminal status.",
			},
			[]string{"status"},
		)

		itemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapfetch_item_duration_seconds",
				Help:    "Histogram of per-item conversion latencies, labeled by format.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"format"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapfetch_active_workers",
				Help: "Number of batch workers currently processing an item.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counter for the given outcome.
func ObserveFetch(outcome string) {
	fetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRender increments the headless-operation counter.
func ObserveRender(kind, outcome string) {
	rendersTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRenderRejected counts a capacity rejection for the given kind.
func ObserveRenderRejected(kind string) {
	renderRejectedTotal.WithLabelValues(kind).Inc()
}

// ObserveJob increments the terminal job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveItem records the duration of one item conversion.
func ObserveItem(format string, duration time.Duration) {
	itemDurationSeconds.WithLabelValues(format).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
