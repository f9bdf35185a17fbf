// Package metrics holds the Prometheus collectors for tile runs. Collectors
// are registered on the default registry via promauto and exposed by the
// HTTP API at /metrics.
//
//   - matilda_tiles_total{outcome} (Counter): finished jobs by outcome (fetched, resumed, failed)
//   - matilda_tile_bytes_total (Counter): bytes written to the tile store
//   - matilda_fetch_duration_seconds (Histogram): fetch-and-write duration of fetched tiles
//   - matilda_active_workers (Gauge): workers currently holding a job
//   - matilda_runs_total{status} (Counter): finished runs by final status
//   - matilda_http_requests_total{route,code} (Counter): API requests by route template and status code
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matilda_tiles_total",
		Help: "Finished tile jobs by outcome",
	}, []string{"outcome"})

	tileBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matilda_tile_bytes_total",
		Help: "Bytes written to the tile store",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matilda_fetch_duration_seconds",
		Help:    "Fetch and write duration of fetched tiles in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matilda_active_workers",
		Help: "Workers currently holding a tile job",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matilda_runs_total",
		Help: "Finished runs by final status",
	}, []string{"status"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matilda_http_requests_total",
		Help: "HTTP API requests by route template and status code",
	}, []string{"route", "code"})
)

// ObserveTile records one finished tile job. Bytes and duration only count
// for fetched tiles; a failed job leaves nothing in the store.
func ObserveTile(outcome string, bytes int64, d time.Duration) {
	tilesTotal.WithLabelValues(outcome).Inc()
	if outcome != "fetched" {
		return
	}
	if bytes > 0 {
		tileBytesTotal.Add(float64(bytes))
	}
	fetchDuration.Observe(d.Seconds())
}

// SetActiveWorkers records how many workers hold a job
func SetActiveWorkers(n int) {
	activeWorkers.Set(float64(n))
}

// ObserveRun records the final status of a run
func ObserveRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveRequest records one HTTP request. route is the router's template
// (for example /tiles/:z/:x/:y), never the raw path.
func ObserveRequest(route string, code int) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
