package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fixesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locationtracker_fixes_received_total",
		Help: "Fixes delivered by the provider, by source.",
	}, []string{"source"})

	fixesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationtracker_fixes_persisted_total",
		Help: "Fixes appended to the trace log.",
	})

	fixesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locationtracker_fixes_discarded_total",
		Help: "Fixes dropped before persistence, by reason.",
	}, []string{"reason"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationtracker_persist_failures_total",
		Help: "Trace log appends that failed.",
	})

	sessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locationtracker_session_state",
		Help: "Current session state (0 stopped, 1 starting, 2 tracking, 3 stopping).",
	})
)
