package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	RelayOutcomePublished = "published"
	RelayOutcomeRetry     = "retry"
	RelayOutcomeDead      = "dead"
)

// RelayMetrics counts outbox rows handed to the broker.
type RelayMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herfa_outbox_relay_total",
		Help: "Outbox rows processed by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(outcomes)
	return &RelayMetrics{outcomes: outcomes}
}

func (m *RelayMetrics) Inc(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
