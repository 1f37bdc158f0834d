// Package metrics provides Prometheus metrics for the scrape workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed tracks jobs finished by queue, function and status
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilegraph",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed by queue, function and final status",
		},
		[]string{"queue", "function", "status"},
	)

	// JobDuration tracks job run time in seconds
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "profilegraph",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"queue", "function"},
	)

	// JobsInFlight tracks jobs currently running per queue
	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "profilegraph",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
		[]string{"queue"},
	)

	// JobsEnqueued tracks jobs placed on a queue
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilegraph",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		},
		[]string{"queue", "function"},
	)

	// UpstreamRequests tracks outbound API requests by site and status code
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilegraph",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream API requests",
		},
		[]string{"site", "status_code"},
	)

	// UpstreamErrors tracks classified upstream failures
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilegraph",
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Total number of upstream failures by error kind",
		},
		[]string{"site", "kind"},
	)

	// ReconcileConflicts tracks unique constraint races resolved by update
	ReconcileConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilegraph",
			Subsystem: "reconcile",
			Name:      "conflicts_total",
			Help:      "Total number of insert conflicts resolved by falling back to update",
		},
		[]string{"entity"},
	)

	// NotificationsPublished tracks pub/sub publishes by channel
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilegraph",
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Total number of notifications published",
		},
		[]string{"channel"},
	)

	// IndexOperations tracks search index writes
	IndexOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "profilegraph",
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Total number of search index operations",
		},
		[]string{"type", "op"},
	)
)
