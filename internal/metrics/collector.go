// Package socks5metrics exposes Prometheus metrics for the proxy and admin
// listeners.
package socks5metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "socks5d"
	subsystem = "proxy"
)

// Label names.
const (
	labelSessionType = "session_type"
	labelStatus      = "status"
	labelDirection   = "direction"
)

// Collector holds all socks5d Prometheus metrics.
//
//   - HistoricConnections/CurrentConnections count accepted proxy
//     connections; unlike runtimestate's own counters, which move only
//     once a SOCKS5 request has succeeded, they move on accept.
//   - BytesTransferred is split by relay direction.
//   - Disector{Scans,CredentialsFound} track the POP3 sniffer's activity.
//   - MonitorRequests is labeled by admin-protocol status code for alerting
//     on a spike of AUTH_ERROR or INVALID_DATA replies.
type Collector struct {
	// HistoricConnections counts every proxy session ever accepted.
	HistoricConnections prometheus.Counter

	// CurrentConnections tracks proxy sessions presently in COPY or earlier.
	CurrentConnections prometheus.Gauge

	// BytesTransferred counts relayed bytes, split client-to-origin and
	// origin-to-client.
	BytesTransferred *prometheus.CounterVec

	// SessionsByType counts completed sessions labeled by terminal status
	// (succeeded, auth_failed, connection_refused, ...).
	SessionsByType *prometheus.CounterVec

	// DisectorScans counts proxy sessions the credential sniffer was
	// attached to.
	DisectorScans prometheus.Counter

	// DisectorCredentialsFound counts USER/PASS pairs the sniffer
	// extracted.
	DisectorCredentialsFound prometheus.Counter

	// MonitorRequests counts admin-protocol requests labeled by their
	// reply status byte.
	MonitorRequests *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.HistoricConnections,
		c.CurrentConnections,
		c.BytesTransferred,
		c.SessionsByType,
		c.DisectorScans,
		c.DisectorCredentialsFound,
		c.MonitorRequests,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		HistoricConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_total",
			Help:      "Total SOCKS5 proxy sessions ever accepted.",
		}),

		CurrentConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_current",
			Help:      "SOCKS5 proxy sessions currently in progress.",
		}),

		BytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_transferred_total",
			Help:      "Bytes relayed between client and origin, by direction.",
		}, []string{labelDirection}),

		SessionsByType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_total",
			Help:      "Completed SOCKS5 sessions, labeled by terminal status.",
		}, []string{labelSessionType, labelStatus}),

		DisectorScans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pop3disect",
			Name:      "scans_total",
			Help:      "Total proxy sessions the POP3 credential sniffer was attached to.",
		}),

		DisectorCredentialsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pop3disect",
			Name:      "credentials_found_total",
			Help:      "Total USER/PASS credential pairs extracted by the sniffer.",
		}),

		MonitorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "requests_total",
			Help:      "Total admin protocol requests, labeled by reply status byte.",
		}, []string{labelStatus}),
	}
}

// IncConnectionAccepted records a newly accepted proxy session.
func (c *Collector) IncConnectionAccepted() {
	c.HistoricConnections.Inc()
	c.CurrentConnections.Inc()
}

// DecConnectionActive records a torn-down proxy session.
func (c *Collector) DecConnectionActive() {
	c.CurrentConnections.Dec()
}

// AddBytesClientToOrigin adds n to the client-to-origin transfer counter.
func (c *Collector) AddBytesClientToOrigin(n int) {
	c.BytesTransferred.WithLabelValues("client_to_origin").Add(float64(n))
}

// AddBytesOriginToClient adds n to the origin-to-client transfer counter.
func (c *Collector) AddBytesOriginToClient(n int) {
	c.BytesTransferred.WithLabelValues("origin_to_client").Add(float64(n))
}

// RecordSessionOutcome increments the completed-session counter for the
// given terminal status label.
func (c *Collector) RecordSessionOutcome(status string) {
	c.SessionsByType.WithLabelValues("socks5", status).Inc()
}

// IncDisectorScan records one proxy session the sniffer was attached to.
func (c *Collector) IncDisectorScan() {
	c.DisectorScans.Inc()
}

// IncDisectorCredentialFound records one extracted credential pair.
func (c *Collector) IncDisectorCredentialFound() {
	c.DisectorCredentialsFound.Inc()
}

// IncMonitorRequest records one admin-protocol request, labeled by its
// reply status byte rendered as a fixed hex string (e.g. "0x00").
func (c *Collector) IncMonitorRequest(statusHex string) {
	c.MonitorRequests.WithLabelValues(statusHex).Inc()
}
