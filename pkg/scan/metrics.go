package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foodlens_scans_total",
		Help: "Scan requests started.",
	})

	regionsTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodlens_regions_terminal_total",
		Help: "Regions finished, by terminal status.",
	}, []string{"status"})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "foodlens_scan_duration_seconds",
		Help:    "End-to-end scan duration.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})
)
