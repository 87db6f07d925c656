package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "epiring",
			Name:      "lookups_total",
			Help:      "Total number of lookups, by outcome.",
		},
		[]string{"outcome", "app"},
	)

	LookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "epiring",
			Name:      "lookup_duration_seconds",
			Help:      "End-to-end lookup latency.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
	)

	LookupHops = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "epiring",
			Name:      "lookup_hops",
			Help:      "Requests issued per lookup across all redundant paths.",
			Buckets:   prometheus.LinearBuckets(1, 1, 16),
		},
	)

	LookupsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "epiring",
			Name:      "lookups_in_flight",
			Help:      "Current number of active lookups.",
		},
	)

	FalseNegativeRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "epiring",
			Name:      "false_negative_recoveries_total",
			Help:      "Lookups rescued by the stale-pointer false-negative check.",
		},
	)

	StaleSpanNotices = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "epiring",
			Name:      "stale_span_notices_total",
			Help:      "Repair hints sent to boundary nodes of a dead span.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "epiring",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		LookupsTotal,
		LookupDuration,
		LookupHops,
		LookupsInFlight,
		FalseNegativeRecoveries,
		StaleSpanNotices,
		uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
