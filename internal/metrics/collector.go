package fepmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace       = "isofep"
	clientSubsystem = "client"
	serverSubsystem = "server"
)

// Label names.
const (
	labelRole            = "role"
	labelInstitutionID   = "institution_id"
	labelOldState        = "old_state"
	labelNewState        = "new_state"
	labelDropPolicy      = "drop_policy"
)

// -------------------------------------------------------------------------
// Collector — Prometheus FEP Metrics
// -------------------------------------------------------------------------

// Collector holds all isofep Prometheus metrics for both the client
// (internal/fisc) and server (internal/server) halves of the FEP.
type Collector struct {
	// ClientMessagesSent counts messages written by the dual-channel
	// client, labeled by channel role.
	ClientMessagesSent *prometheus.CounterVec

	// ClientMessagesReceived counts messages read by the client.
	ClientMessagesReceived *prometheus.CounterVec

	// ClientPendingSize reports the current size of the STAN-indexed
	// pending-request table.
	ClientPendingSize prometheus.Gauge

	// ClientReconnectAttempts counts reconnect attempts per channel role.
	ClientReconnectAttempts *prometheus.CounterVec

	// ClientStateTransitions counts client FSM transitions, labeled by
	// old and new state.
	ClientStateTransitions *prometheus.CounterVec

	// ServerMessagesReceived counts inbound messages accepted by the
	// server, labeled by institution id.
	ServerMessagesReceived *prometheus.CounterVec

	// ServerMessagesSent counts outbound responses written by the
	// server, labeled by institution id.
	ServerMessagesSent *prometheus.CounterVec

	// ServerMessagesDropped counts responses dropped from the server's
	// bounded response queue, labeled by the configured drop policy.
	ServerMessagesDropped *prometheus.CounterVec

	// ServerResponseQueueDepth reports the depth of the server's
	// outbound response queue, labeled by institution id.
	ServerResponseQueueDepth *prometheus.GaugeVec

	// ServerActiveConnections tracks the number of connections
	// currently registered in the server's routing table.
	ServerActiveConnections prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ClientMessagesSent,
		c.ClientMessagesReceived,
		c.ClientPendingSize,
		c.ClientReconnectAttempts,
		c.ClientStateTransitions,
		c.ServerMessagesReceived,
		c.ServerMessagesSent,
		c.ServerMessagesDropped,
		c.ServerResponseQueueDepth,
		c.ServerActiveConnections,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	roleLabels := []string{labelRole}
	instLabels := []string{labelInstitutionID}
	transitionLabels := []string{labelOldState, labelNewState}
	dropLabels := []string{labelDropPolicy}

	return &Collector{
		ClientMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: clientSubsystem,
			Name:      "messages_sent_total",
			Help:      "Total ISO 8583 messages written by the client, by channel role.",
		}, roleLabels),

		ClientMessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: clientSubsystem,
			Name:      "messages_received_total",
			Help:      "Total ISO 8583 messages read by the client, by channel role.",
		}, roleLabels),

		ClientPendingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: clientSubsystem,
			Name:      "pending_size",
			Help:      "Current number of in-flight requests awaiting a correlated response.",
		}),

		ClientReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: clientSubsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnect attempts, by channel role.",
		}, roleLabels),

		ClientStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: clientSubsystem,
			Name:      "state_transitions_total",
			Help:      "Total client FSM state transitions.",
		}, transitionLabels),

		ServerMessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serverSubsystem,
			Name:      "messages_received_total",
			Help:      "Total ISO 8583 messages accepted by the server, by institution id.",
		}, instLabels),

		ServerMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serverSubsystem,
			Name:      "messages_sent_total",
			Help:      "Total ISO 8583 responses written by the server, by institution id.",
		}, instLabels),

		ServerMessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serverSubsystem,
			Name:      "messages_dropped_total",
			Help:      "Total responses dropped from a full response queue, by drop policy.",
		}, dropLabels),

		ServerResponseQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: serverSubsystem,
			Name:      "response_queue_depth",
			Help:      "Current depth of the server's outbound response queue, by institution id.",
		}, instLabels),

		ServerActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: serverSubsystem,
			Name:      "active_connections",
			Help:      "Number of connections currently registered in the routing table.",
		}),
	}
}

// -------------------------------------------------------------------------
// Client Counters
// -------------------------------------------------------------------------

func (c *Collector) IncClientSent(role string)     { c.ClientMessagesSent.WithLabelValues(role).Inc() }
func (c *Collector) IncClientReceived(role string) { c.ClientMessagesReceived.WithLabelValues(role).Inc() }
func (c *Collector) SetClientPendingSize(n int)    { c.ClientPendingSize.Set(float64(n)) }

func (c *Collector) IncClientReconnectAttempt(role string) {
	c.ClientReconnectAttempts.WithLabelValues(role).Inc()
}

func (c *Collector) RecordClientStateTransition(from, to string) {
	c.ClientStateTransitions.WithLabelValues(from, to).Inc()
}

// -------------------------------------------------------------------------
// Server Counters
// -------------------------------------------------------------------------

func (c *Collector) IncServerReceived(institutionID string) {
	c.ServerMessagesReceived.WithLabelValues(institutionID).Inc()
}

func (c *Collector) IncServerSent(institutionID string) {
	c.ServerMessagesSent.WithLabelValues(institutionID).Inc()
}

func (c *Collector) IncServerDropped(policy string) {
	c.ServerMessagesDropped.WithLabelValues(policy).Inc()
}

func (c *Collector) SetServerResponseQueueDepth(institutionID string, depth int) {
	c.ServerResponseQueueDepth.WithLabelValues(institutionID).Set(float64(depth))
}

func (c *Collector) SetServerActiveConnections(n int) {
	c.ServerActiveConnections.Set(float64(n))
}
