// Package metrics exposes the relay's operational counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playroom_snapshots_accepted_total",
		Help: "Snapshots that replaced a room's accepted state.",
	})

	SnapshotsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playroom_snapshots_rejected_total",
		Help: "Snapshots rejected by the staleness rules, by reason.",
	}, []string{"reason"})

	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playroom_broadcasts_dropped_total",
		Help: "Snapshot deliveries skipped for backpressured participants.",
	})

	ActionsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playroom_actions_relayed_total",
		Help: "Discrete actions forwarded to the authoritative participant.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playroom_active_rooms",
		Help: "Rooms currently tracked by the registry.",
	})

	ConnectedParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playroom_connected_participants",
		Help: "Websocket attachments currently registered across all rooms.",
	})
)
