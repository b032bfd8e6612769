package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockTransitions counts coordinator state changes by target state.
	LockTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teamcal_lock_transitions_total",
		Help: "Total number of lock coordinator state transitions",
	}, []string{"state"})
	// HeartbeatFailures counts refresh calls that lost the lease.
	HeartbeatFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamcal_lock_heartbeat_failures_total",
		Help: "Total number of failed lock heartbeats",
	})
	// ConnectAttempts counts realtime transport dials.
	ConnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamcal_realtime_connect_attempts_total",
		Help: "Total number of realtime connection attempts",
	})
	// ReconnectsScheduled counts reconnect timers armed after a close.
	ReconnectsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamcal_realtime_reconnects_scheduled_total",
		Help: "Total number of scheduled realtime reconnects",
	})
	// FramesDropped counts frames discarded by reason.
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teamcal_realtime_frames_dropped_total",
		Help: "Total number of dropped realtime frames",
	}, []string{"reason"})
	// EventsDelivered counts payloads handed to subscribers.
	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamcal_realtime_events_delivered_total",
		Help: "Total number of realtime events delivered",
	})
	// EventsFiltered counts payloads whose calendar did not match the subscription.
	EventsFiltered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamcal_realtime_events_filtered_total",
		Help: "Total number of realtime events filtered by calendar",
	})
	// ConnectedChannels reports channels with a completed handshake.
	ConnectedChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamcal_realtime_connected_channels",
		Help: "Current number of connected realtime channels",
	})
	// VersionConflicts counts saves rejected for a stale base version.
	VersionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamcal_reconcile_version_conflicts_total",
		Help: "Total number of version conflicts on save",
	})
	// Refetches counts background refetches triggered by notifications.
	Refetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teamcal_reconcile_refetches_total",
		Help: "Total number of background refetches",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterMetrics registers every teamcal collector on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		LockTransitions,
		HeartbeatFailures,
		ConnectAttempts,
		ReconnectsScheduled,
		FramesDropped,
		EventsDelivered,
		EventsFiltered,
		ConnectedChannels,
		VersionConflicts,
		Refetches,
	)
}
