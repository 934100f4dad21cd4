package tracestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "locationtracker_store_append_seconds",
		Help:    "Time to rewrite the trace log for one append.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	appendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationtracker_store_append_failures_total",
		Help: "Appends that left the trace log unchanged because of an error.",
	})
)
