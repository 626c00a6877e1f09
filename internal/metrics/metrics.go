// Package metrics holds the prometheus instruments for the sync protocol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_events_published_total",
		Help: "Channel events published, by event kind.",
	}, []string{"kind"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notesync_relay_clients",
		Help: "Websocket clients currently connected to the relay.",
	})

	Saves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_saves_total",
		Help: "Note save attempts, by result (ok or error).",
	}, []string{"result"})

	ConflictDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_conflict_decisions_total",
		Help: "Conflict prompt outcomes, by decision.",
	}, []string{"decision"})
)
