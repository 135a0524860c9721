// Package metrics defines and registers all custom Prometheus metrics for the
// tracking service. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation (promauto).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracking"

// ── Live tracking ─────────────────────────────────────────────────────────────

// ActiveSubscriptions is the number of attached change-feed channels.
var ActiveSubscriptions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Number of change-feed channels currently attached.",
	},
)

// ChangeEventsAppliedTotal counts change events accepted by a location store.
var ChangeEventsAppliedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_events_applied_total",
		Help:      "Total number of change events applied to a location store.",
	},
)

// ChangeEventsDroppedTotal counts change events that were discarded.
// Label:
//   - reason: "validation", "out_of_order" or "stale_subscription"
var ChangeEventsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_events_dropped_total",
		Help:      "Total number of change events dropped, by reason.",
	},
	[]string{"reason"},
)

// ChannelErrorsTotal counts push channel failures.
// Label:
//   - op: "open" (attach failed) or "receive" (transport dropped the channel)
var ChannelErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_errors_total",
		Help:      "Total number of change-feed channel failures.",
	},
	[]string{"op"},
)

// RenderErrorsTotal counts map frames the renderer failed to draw.
var RenderErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "render_errors_total",
		Help:      "Total number of map frames that failed to render.",
	},
)

// ── Location ingestion ────────────────────────────────────────────────────────

// PingsProcessedTotal counts location pings that were persisted.
// Label:
//   - source: the ping source reported by the sender (e.g. "partner_app")
var PingsProcessedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pings_processed_total",
		Help:      "Total number of location pings successfully processed.",
	},
	[]string{"source"},
)

// PingsErrorsTotal counts pings that failed processing.
// Label:
//   - reason: e.g. "order_not_found", "forbidden", "update_failed"
var PingsErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pings_errors_total",
		Help:      "Total number of location pings that failed processing.",
	},
	[]string{"reason"},
)

// PingsDedupTotal counts deduplication decisions.
// Label:
//   - result: "hit" (duplicate, skipped) or "miss" (new ping, processed)
var PingsDedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pings_dedup_total",
		Help:      "Total number of deduplication checks, labelled by result (hit/miss).",
	},
	[]string{"result"},
)

// PingsQueueDepth tracks the current number of pings waiting in each worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var PingsQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pings_queue_depth",
		Help:      "Current number of pings pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// PingProcessingDuration measures how long a single ping takes to process end-to-end.
// Label:
//   - result: "ok", "stale" or "error"
var PingProcessingDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ping_processing_duration_seconds",
		Help:      "Duration of ping processing from dequeue to persistence.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"result"},
)

// ── Orders ────────────────────────────────────────────────────────────────────

// StatusTransitionsTotal counts order status changes applied.
// Label:
//   - status: the new order status
var StatusTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Total number of order status transitions, by new status.",
	},
	[]string{"status"},
)
