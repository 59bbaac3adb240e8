// Package metrics defines the Prometheus instruments shared by the device
// service. They register on the default registry and surface on the debug
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LinkUp records whether a client currently holds the update link.
	// 1 = client present, 0 = no client.
	LinkUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "glowlink_link_up",
			Help: "Whether a client currently holds the update link (1=yes, 0=no).",
		},
	)

	// SessionsTotal counts finished update sessions by outcome.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glowlink_update_sessions_total",
			Help: "Total number of finished update sessions.",
		},
		[]string{"result"}, // result: success/error/aborted
	)

	// ChunksTotal counts accepted data endpoint writes.
	ChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "glowlink_data_chunks_total",
			Help: "Total number of accepted image chunks.",
		},
	)

	// BytesReceivedTotal counts accepted image bytes.
	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "glowlink_image_bytes_received_total",
			Help: "Total number of accepted image bytes.",
		},
	)

	// CommitLatency records the time spent verifying and committing an
	// image at the end of a session.
	CommitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "glowlink_commit_latency_seconds",
			Help:    "Latency of verifying an image and flipping the boot pointer.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(LinkUp)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(BytesReceivedTotal)
	prometheus.MustRegister(CommitLatency)
}
