// Package metrics defines the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Collector
	ItemsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_items_collected_total",
			Help: "Raw items emitted by collectors",
		},
		[]string{"source"},
	)

	CollectErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_collect_errors_total",
			Help: "Failed feed polls",
		},
		[]string{"source"},
	)

	// Ingest
	ItemsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_items_filtered_total",
			Help: "Items rejected before scoring",
		},
		[]string{"reason"}, // "expired", "blacklisted"
	)

	EventsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intelhub_events_stored_total",
			Help: "Events upserted into the store",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_store_errors_total",
			Help: "Failed store operations",
		},
		[]string{"operation"},
	)

	NotifyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_notify_decisions_total",
			Help: "Ingest notify decisions",
		},
		[]string{"decision"}, // "forward", "below_threshold", "throttled", "escalated", "already_pushed"
	)

	EventScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intelhub_event_score",
			Help:    "Distribution of event scores",
			Buckets: []float64{0, 20, 40, 60, 70, 80, 90, 100, 150},
		},
	)

	// Dispatcher
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_dispatch_outcomes_total",
			Help: "Dispatcher outcomes per event",
		},
		[]string{"outcome"}, // "sent", "failed", "muted", "deduped", "batched"
	)

	PendingBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intelhub_pending_batches",
			Help: "Thread keys with an open batch window",
		},
	)

	// Delivery
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_delivery_attempts_total",
			Help: "HTTP attempts made by channel adapters",
		},
		[]string{"channel", "result"}, // result: "ok", "retry", "terminal"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intelhub_breaker_state",
			Help: "Circuit breaker state per channel (0 closed, 1 half-open, 2 open)",
		},
		[]string{"channel"},
	)

	// Housekeeping
	EventsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intelhub_events_expired_total",
			Help: "Rows removed by the expiry sweep",
		},
	)

	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intelhub_reloads_total",
			Help: "Config and rules reload attempts",
		},
		[]string{"target", "result"},
	)
)
