package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts persisted notifications by type.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskwise_notifications_created_total",
			Help: "Total number of notifications persisted",
		},
		[]string{"type"},
	)

	// PushDeliveries counts web push delivery outcomes (delivered|expired|failed|disabled).
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskwise_push_deliveries_total",
			Help: "Total number of web push delivery attempts by final outcome",
		},
		[]string{"result"},
	)

	// PushRetries counts retried web push sends.
	PushRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskwise_push_retries_total",
			Help: "Total number of web push send retries",
		},
	)

	// RetentionDeletions counts notifications removed by the cleanup scheduler,
	// partitioned by read state (read|unread).
	RetentionDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskwise_retention_deletions_total",
			Help: "Total number of notifications deleted by retention cleanup",
		},
		[]string{"state"},
	)

	// ActiveStreams tracks open notification stream connections.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskwise_active_streams",
			Help: "Number of connected notification stream clients",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deskwise_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
