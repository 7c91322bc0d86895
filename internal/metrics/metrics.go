// Package metrics exposes Prometheus collectors for the harvester.
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
	entitiesTotal              *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	unitFailuresTotal          *prometheus.CounterVec
	scrollPassesTotal          prometheus.Counter
	frontierSize               prometheus.Gauge
	actionWaitSeconds          prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoharvest_entities_total",
				Help: "Entities that finished traversal, labeled by final status.",
			},
			[]string{"status"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoharvest_items_total",
				Help: "Leaf items visited, labeled by outcome (written, skipped, failed).",
			},
			[]string{"outcome"},
		)

		unitFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoharvest_unit_failures_total",
				Help: "Units of work that failed, labeled by unit kind.",
			},
			[]string{"unit"},
		)

		scrollPassesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "autoharvest_scroll_passes_total",
				Help: "Scroll actions issued against the listing.",
			},
		)

		frontierSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "autoharvest_frontier_size",
				Help: "Entities discovered in the current run.",
			},
		)

		actionWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autoharvest_action_wait_seconds",
				Help:    "Time spent waiting on the browser action limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoharvest_http_requests_total",
				Help: "Status API requests, labeled by route and code.",
			},
			[]string{"route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoharvest_http_request_duration_seconds",
				Help:    "Status API request latencies, labeled by route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveEntity counts an entity reaching a final status.
func ObserveEntity(status string) {
	Init()
	entitiesTotal.WithLabelValues(status).Inc()
}

// ObserveItem counts a leaf item outcome.
func ObserveItem(outcome string) {
	Init()
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUnitFailure counts a failed unit of work.
func ObserveUnitFailure(unit string) {
	Init()
	unitFailuresTotal.WithLabelValues(unit).Inc()
}

// ObserveScrollPass counts one scroll action.
func ObserveScrollPass() {
	Init()
	scrollPassesTotal.Inc()
}

// SetFrontierSize records the number of discovered entities.
func SetFrontierSize(n int) {
	Init()
	frontierSize.Set(float64(n))
}

// ObserveActionWait records time spent blocked on the action limiter.
func ObserveActionWait(d time.Duration) {
	Init()
	actionWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest records one status API request.
func ObserveHTTPRequest(route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
