package socket

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report push channel activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connected         prometheus.Gauge
	reconnectAttempts prometheus.Counter
	exhausted         prometheus.Counter
	received          *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	sent              *prometheus.CounterVec
}

// MustNewMetrics registers the push channel collectors with reg. Collectors
// that are already registered are reused, so building a second client against
// the same registry does not panic. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phlexileads",
			Subsystem: "push_channel",
			Name:      "connected",
			Help:      "1 while the push channel is connected.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phlexileads",
			Subsystem: "push_channel",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a failure or close.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phlexileads",
			Subsystem: "push_channel",
			Name:      "reconnect_exhausted_total",
			Help:      "Times the client gave up reconnecting.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phlexileads",
			Subsystem: "push_channel",
			Name:      "messages_received_total",
			Help:      "Inbound messages delivered to at least one subscriber.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phlexileads",
			Subsystem: "push_channel",
			Name:      "messages_dropped_total",
			Help:      "Inbound frames dropped before delivery.",
		}, []string{"reason"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phlexileads",
			Subsystem: "push_channel",
			Name:      "messages_sent_total",
			Help:      "Outbound messages by result.",
		}, []string{"type", "result"}),
	}

	m.connected = register(reg, m.connected)
	m.reconnectAttempts = register(reg, m.reconnectAttempts)
	m.exhausted = register(reg, m.exhausted)
	m.received = register(reg, m.received)
	m.dropped = register(reg, m.dropped)
	m.sent = register(reg, m.sent)

	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

const (
	dropInvalid      = "invalid"
	dropMissingType  = "missing_type"
	dropNoSubscriber = "no_subscriber"

	sendOK           = "ok"
	sendNotConnected = "not_connected"
	sendError        = "error"
)

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) incReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) incExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

func (m *Metrics) incReceived(eventType string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(eventType).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) incSent(eventType, result string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(eventType, result).Inc()
}
