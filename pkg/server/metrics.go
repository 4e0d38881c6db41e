package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aeolun/chatroom/pkg/protocol"
)

// Metrics holds all Prometheus metrics for the server.
// Every server gets its own registry so tests can run several servers in one process.
// All Record methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	activeSessions prometheus.Gauge
	connections    *prometheus.CounterVec // by transport
	disconnects    *prometheus.CounterVec // by reason

	// Room metrics
	rooms prometheus.Gauge

	// Packet metrics
	packetsReceived *prometheus.CounterVec // by opcode
	packetsSent     *prometheus.CounterVec // by opcode
	packetsDropped  *prometheus.CounterVec // by reason
	protocolErrors  *prometheus.CounterVec // by error code

	// Broadcast metrics
	broadcastFanout   *prometheus.HistogramVec
	broadcastDuration *prometheus.HistogramVec
}

// NewMetrics creates a new metrics instance on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatroom_active_sessions",
				Help: "Current number of registered users",
			},
		),
		connections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatroom_connections_total",
				Help: "Total number of accepted connections by transport",
			},
			[]string{"transport"},
		),
		disconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatroom_disconnects_total",
				Help: "Total number of closed connections by reason",
			},
			[]string{"reason"},
		),
		rooms: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatroom_rooms",
				Help: "Number of rooms (rooms are never deleted)",
			},
		),
		packetsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatroom_packets_received_total",
				Help: "Total number of packets received from clients by opcode",
			},
			[]string{"opcode"},
		),
		packetsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatroom_packets_sent_total",
				Help: "Total number of packets queued to clients by opcode",
			},
			[]string{"opcode"},
		),
		packetsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatroom_packets_dropped_total",
				Help: "Total number of packets dropped by reason",
			},
			[]string{"reason"},
		),
		protocolErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatroom_protocol_errors_total",
				Help: "Total number of Err packets sent to peers by code",
			},
			[]string{"code"},
		),
		broadcastFanout: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatroom_broadcast_fanout",
				Help:    "Number of members that received each broadcast",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"type"}, // "message" or "user_list"
		),
		broadcastDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatroom_broadcast_duration_seconds",
				Help:    "Time taken to queue a broadcast to every member",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordActiveSessions updates the registered user count
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordConnection increments the accepted connection counter
func (m *Metrics) RecordConnection(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Inc()
}

// RecordDisconnect increments the disconnect counter for a reason
func (m *Metrics) RecordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
}

// RecordRooms updates the room count
func (m *Metrics) RecordRooms(count int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(count))
}

// RecordPacketReceived increments the received counter for an opcode
func (m *Metrics) RecordPacketReceived(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(op.String()).Inc()
}

// RecordPacketSent increments the sent counter for an opcode
func (m *Metrics) RecordPacketSent(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(op.String()).Inc()
}

// RecordPacketDropped increments the dropped counter for a reason
func (m *Metrics) RecordPacketDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

// RecordProtocolError increments the Err counter for a code
func (m *Metrics) RecordProtocolError(code protocol.ErrorCode) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(code.String()).Inc()
}

// RecordBroadcast records how many members a broadcast reached and how long it took
func (m *Metrics) RecordBroadcast(broadcastType string, recipients int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.broadcastFanout.WithLabelValues(broadcastType).Observe(float64(recipients))
	m.broadcastDuration.WithLabelValues(broadcastType).Observe(durationSeconds)
}
