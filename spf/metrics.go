package spf

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCheck = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spf_check_total",
			Help: "SPF queries by result.",
		},
		[]string{
			"result",
		},
	)
	metricCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spf_check_duration_seconds",
			Help:    "SPF query duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
		},
	)
	metricLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spf_dns_lookups_total",
			Help: "DNS-querying SPF terms evaluated, by type.",
		},
		[]string{
			"type", // include, a, mx, ptr, exists, redirect
		},
	)
)

func observe(status Status, d time.Duration) {
	metricCheck.WithLabelValues(string(status)).Inc()
	metricCheckDuration.Observe(d.Seconds())
}
