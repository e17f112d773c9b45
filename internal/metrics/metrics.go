// Package metrics holds the process Prometheus collectors. Exposed on
// /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueriesTotal counts listing queries by access path
// (all, compound, category, country_merge, category_merge, search).
var QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamdex_queries_total",
	Help: "Channel listing queries by access path",
}, []string{"path"})

// QueryDuration observes listing query latency.
var QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "streamdex_query_duration_seconds",
	Help:    "Channel listing query latency",
	Buckets: prometheus.DefBuckets,
})

// ProbesTotal counts completed stream probes by result (working, failed).
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamdex_probes_total",
	Help: "Completed channel probes by result",
}, []string{"result"})

// ProbesInFlight tracks concurrently running probes. Bounded by the
// scheduler's concurrency cap.
var ProbesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "streamdex_probes_in_flight",
	Help: "Probes currently running",
})

// ProbeCacheLookups counts probe cache lookups by outcome (hit, miss).
var ProbeCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamdex_probe_cache_lookups_total",
	Help: "Probe cache lookups by outcome",
}, []string{"outcome"})
