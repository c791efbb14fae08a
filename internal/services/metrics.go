package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// duelTransitions counts committed status changes.
	duelTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_transitions_total",
			Help: "Committed duel status transitions.",
		},
		[]string{"from", "to"},
	)

	// duelResolutions counts Resolve decisions by result
	// (verified, forfeited, tie, no_show).
	duelResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_resolutions_total",
			Help: "Duel resolutions by result.",
		},
		[]string{"result"},
	)

	// writeConflicts counts compare-and-swap misses that were retried.
	writeConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duel_write_conflicts_total",
		Help: "Duel writes rejected because the row changed since it was read.",
	})

	oracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_calls_total",
			Help: "Verification oracle calls by result.",
		},
		[]string{"result"},
	)

	statsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stats_outcomes_applied_total",
		Help: "Duel outcomes applied to player statistics.",
	})

	notificationsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_enqueued_total",
			Help: "Notifications persisted, by type.",
		},
		[]string{"type"},
	)

	notificationsDeduplicated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_deduplicated_total",
			Help: "Enqueue calls suppressed by an existing notification, by type.",
		},
		[]string{"type"},
	)

	notificationAlertFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_alert_failures_total",
		Help: "Local alerts that could not be scheduled; the notification stays queued.",
	})
)

func init() {
	prometheus.MustRegister(
		duelTransitions, duelResolutions, writeConflicts, oracleCalls,
		statsApplied, notificationsEnqueued, notificationsDeduplicated,
		notificationAlertFailures,
	)
}
