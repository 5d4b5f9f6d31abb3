package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Append outcome labels.
const (
	outcomeAppended = "appended"
	outcomeExists   = "exists"
	outcomeConflict = "conflict"
	outcomeGap      = "gap"
	outcomeDate     = "date_order"
	outcomeFuture   = "future"
	outcomeInvalid  = "invalid"
	outcomeFanout   = "fanout_error"
	outcomeError    = "error"
)

type metrics struct {
	appends        *prometheus.CounterVec
	conflicts      prometheus.Counter
	appendDuration prometheus.Histogram
	fanoutDuration *prometheus.HistogramVec
	rebuilds       prometheus.Counter
}

// newMetrics creates the engine collectors and registers them with reg. A
// nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		appends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siglog_appends_total",
			Help: "Append calls by outcome.",
		}, []string{"outcome"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "siglog_conflicts_total",
			Help: "Conflict pairs recorded for the first time.",
		}),
		appendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "siglog_append_duration_seconds",
			Help:    "Append latency including fan-out.",
			Buckets: prometheus.DefBuckets,
		}),
		fanoutDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siglog_fanout_duration_seconds",
			Help:    "Fan-out latency by phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
		rebuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "siglog_rebuilds_total",
			Help: "Completed identity rebuilds.",
		}),
	}
}
