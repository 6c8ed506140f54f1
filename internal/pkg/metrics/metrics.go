package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerMutationsTotal counts committed Subscriber mutations by kind.
	LedgerMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadledger",
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Committed subscriber mutations by ledger entry kind.",
	}, []string{"kind"})

	// LedgerCreditsTotal sums credit movement by kind and direction.
	LedgerCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadledger",
		Subsystem: "ledger",
		Name:      "credits_total",
		Help:      "Credits moved by ledger entry kind and direction (in/out).",
	}, []string{"kind", "direction"})

	// UnlocksTotal counts job unlock attempts by outcome.
	UnlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadledger",
		Subsystem: "ledger",
		Name:      "unlocks_total",
		Help:      "Job unlock attempts by outcome.",
	}, []string{"outcome"})

	// WebhookEventsTotal counts billing webhook deliveries by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadledger",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Billing webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadledger",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SweeperRowsTotal counts rows visited by the expiry sweepers.
	SweeperRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadledger",
		Subsystem: "sweeper",
		Name:      "rows_total",
		Help:      "Rows handled by sweeper and outcome (applied/skipped/failed).",
	}, []string{"sweeper", "outcome"})

	// SweeperRunsTotal counts sweeper iterations by outcome.
	SweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadledger",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Sweeper iterations by outcome (ok/error/overlap/locked).",
	}, []string{"sweeper", "outcome"})

	// SweeperRunDuration tracks how long a full sweep takes.
	SweeperRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadledger",
		Subsystem: "sweeper",
		Name:      "run_duration_seconds",
		Help:      "Sweeper iteration duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"sweeper"})

	// NotificationsTotal counts outbound notification deliveries by outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadledger",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Outbound notifications by kind and outcome.",
	}, []string{"kind", "outcome"})

	// NotificationQueueDepth mirrors the Redis list lengths of the notification queue.
	NotificationQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "leadledger",
		Subsystem: "notify",
		Name:      "queue_depth",
		Help:      "Queued notification jobs by state (pending/processing).",
	}, []string{"state"})
)
