package navsession

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/navbridge/protocol"
)

// Metrics are the session counters. A nil *Metrics records nothing.
type Metrics struct {
	Visits     *prometheus.CounterVec
	Messages   *prometheus.CounterVec
	Stale      *prometheus.CounterVec
	Failures   *prometheus.CounterVec
	Intercepts *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Visits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navbridge",
			Name:      "visits_requested_total",
			Help:      "Visits requested, by the path they took",
		}, []string{"mode"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navbridge",
			Name:      "messages_total",
			Help:      "Inbound protocol messages",
		}, []string{"name"}),
		Stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navbridge",
			Name:      "stale_messages_total",
			Help:      "Messages dropped because their visit identifier is no longer tracked",
		}, []string{"name"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navbridge",
			Name:      "failures_total",
			Help:      "Failures reported to the host or dropped as malformed",
		}, []string{"reason"}),
		Intercepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navbridge",
			Name:      "intercepts_total",
			Help:      "Native navigation intercept decisions",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Visits, m.Messages, m.Stale, m.Failures, m.Intercepts)
	}
	return m
}

func (m *Metrics) visit(mode string) {
	if m != nil {
		m.Visits.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) message(name protocol.Name) {
	if m != nil {
		m.Messages.WithLabelValues(string(name)).Inc()
	}
}

func (m *Metrics) stale(name protocol.Name) {
	if m != nil {
		m.Stale.WithLabelValues(string(name)).Inc()
	}
}

func (m *Metrics) failure(reason string) {
	if m != nil {
		m.Failures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) intercept(result string) {
	if m != nil {
		m.Intercepts.WithLabelValues(result).Inc()
	}
}
