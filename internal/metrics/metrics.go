// Package metrics holds the Prometheus instrumentation for ticketsync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicketsProcessed counts ticket files by terminal outcome (created, queued, failed)
	TicketsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketsync_tickets_processed_total",
			Help: "Ticket files processed, by outcome (created, queued, failed)",
		},
		[]string{"outcome"},
	)

	// WorkItemsCreated counts work items created, by whether the fallback request was needed
	WorkItemsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketsync_work_items_created_total",
			Help: "Work items created in OpenProject",
		},
		[]string{"fallback"},
	)

	AttachmentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketsync_attachment_failures_total",
			Help: "Attachments skipped because download or upload failed",
		},
	)

	// SheetSyncs counts workbook merges by result (appended, duplicate, failed)
	SheetSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketsync_sheet_syncs_total",
			Help: "History workbook merge attempts by result (appended, duplicate, failed)",
		},
		[]string{"result"},
	)

	SheetLockRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketsync_sheet_lock_retries_total",
			Help: "Workbook uploads rejected because the document was locked",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketsync_queue_pending",
			Help: "Workbook updates waiting in the retry queue",
		},
	)

	DeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketsync_queue_dead_letters",
			Help: "Workbook updates that exhausted their retry attempts",
		},
	)

	QueuePersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketsync_queue_persist_errors_total",
			Help: "Failed writes of the retry queue snapshot",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketsync_ingest_cycle_duration_seconds",
			Help:    "Duration of one ticket folder polling cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CircuitBreakerState reports 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ticketsync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketsync_remote_requests_total",
			Help: "HTTP requests against remote APIs by service and status class",
		},
		[]string{"service", "status"},
	)
)
