// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Taps counts processed taps by outcome: check_in, check_out, invalid,
	// unauthorized, invalid_credential, duplicate, conflict, error.
	Taps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plantation",
		Subsystem: "attendance",
		Name:      "taps_total",
		Help:      "RFID taps handled by the IoT attendance endpoint.",
	}, []string{"outcome"})

	TapDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plantation",
		Subsystem: "attendance",
		Name:      "tap_duration_seconds",
		Help:      "Time spent processing a tap, including storage round trips.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	RosterUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plantation",
		Subsystem: "roster",
		Name:      "updates_total",
		Help:      "Tap events consumed by the on-site roster.",
	}, []string{"result"})
)
