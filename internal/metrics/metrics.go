// Package metrics exposes the daemon's Prometheus gauges/counters/histograms
// over /metrics: index pass duration, hook execution counts, and the
// coordinator lock status.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IndexPassDuration observes how long a single indexer pass takes.
var IndexPassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "han",
	Subsystem: "indexer",
	Name:      "pass_duration_seconds",
	Help:      "Duration of a single IndexFile pass.",
	Buckets:   prometheus.DefBuckets,
})

// MessagesIndexedTotal counts messages persisted across all indexing passes.
var MessagesIndexedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "han",
	Subsystem: "indexer",
	Name:      "messages_indexed_total",
	Help:      "Total messages persisted by the indexer.",
})

// HookExecutionsTotal counts hook runs, labeled by exit status.
var HookExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "han",
	Subsystem: "hooks",
	Name:      "executions_total",
	Help:      "Total hook executions, by outcome.",
}, []string{"outcome"})

// LockHeld is 1 while this process holds the coordinator lock, 0 otherwise.
var LockHeld = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "han",
	Subsystem: "coordinator",
	Name:      "lock_held",
	Help:      "1 if this process currently holds the coordinator lock.",
})

func init() {
	prometheus.MustRegister(IndexPassDuration, MessagesIndexedTotal, HookExecutionsTotal, LockHeld)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
