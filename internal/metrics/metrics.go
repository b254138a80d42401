// Package metrics holds the Prometheus collectors of the broker and of nodes.
// A nil *Broker or *Node is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mechos"

// Result label values
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Broker collects registry and directive counters
type Broker struct {
	registrations *prometheus.CounterVec
	directives    *prometheus.CounterVec
	nodes         prometheus.Gauge
}

// NewBroker creates broker collectors and registers them on reg
func NewBroker(reg prometheus.Registerer) *Broker {
	m := &Broker{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "registrations_total",
			Help:      "Registration calls handled, by kind and result.",
		}, []string{"kind", "result"}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "directives_total",
			Help:      "Directives sent to node control endpoints, by kind and result.",
		}, []string{"kind", "result"}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "nodes",
			Help:      "Nodes currently registered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.registrations, m.directives, m.nodes)
	}
	return m
}

// Registration counts one registration call
func (m *Broker) Registration(kind, result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(kind, result).Inc()
}

// Directive counts one directive send
func (m *Broker) Directive(kind, result string) {
	if m == nil {
		return
	}
	m.directives.WithLabelValues(kind, result).Inc()
}

// SetNodes records the registry size
func (m *Broker) SetNodes(n int) {
	if m == nil {
		return
	}
	m.nodes.Set(float64(n))
}

// Node collects data-plane counters
type Node struct {
	published  *prometheus.CounterVec
	sendErrors *prometheus.CounterVec
	received   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
}

// NewNode creates node collectors and registers them on reg
func NewNode(reg prometheus.Registerer) *Node {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      name,
			Help:      help,
		}, []string{"protocol"})
	}
	m := &Node{
		published:  counter("frames_published_total", "Frames written to subscriber peers."),
		sendErrors: counter("send_errors_total", "Per-peer send failures skipped during publish."),
		received:   counter("frames_received_total", "Frames decoded and delivered to callbacks."),
		dropped:    counter("frames_dropped_total", "Frames discarded because they could not be decoded."),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.sendErrors, m.received, m.dropped)
	}
	return m
}

// Published counts one frame sent to one peer
func (m *Node) Published(protocol string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(protocol).Inc()
}

// SendError counts one failed per-peer send
func (m *Node) SendError(protocol string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(protocol).Inc()
}

// Received counts one delivered frame
func (m *Node) Received(protocol string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(protocol).Inc()
}

// Dropped counts one undecodable frame
func (m *Node) Dropped(protocol string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(protocol).Inc()
}
