package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Change events handled by device reconcilers, by type.",
		},
		[]string{"type"},
	)

	// eventsDropped counts events that arrived while the subscription was
	// marked down. The next reconciliation pass covers them.
	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_dropped_total",
		Help: "Events discarded because the subscription was down.",
	})

	eventsStale = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_stale_total",
		Help: "Events ignored because a newer duel version was already applied.",
	})

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_reconciliations_total",
			Help: "Full reconciliation passes, by result.",
		},
		[]string{"result"},
	)

	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnects_total",
		Help: "Resubscribe attempts after a lost or failed subscription.",
	})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_sessions",
		Help: "Device sessions currently subscribed.",
	})
)

func init() {
	prometheus.MustRegister(eventsReceived, eventsDropped, eventsStale, reconciliations, reconnects, activeSessions)
}
