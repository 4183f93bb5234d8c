package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts events per kind and chain, and custody events per reason.
type Metrics struct {
	events    *prometheus.CounterVec
	custodied *prometheus.CounterVec
}

// NewMetrics registers the relay counters with reg. Pass a fresh
// prometheus.Registry in tests to avoid clashing with the default one.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "events_total",
			Help:      "Relay events emitted, by kind and chain.",
		}, []string{"kind", "chain_id"}),
		custodied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "custodied_total",
			Help:      "Inbound transfers left in inbox custody, by reason.",
		}, []string{"chain_id", "reason"}),
	}
	for _, c := range []prometheus.Collector{m.events, m.custodied} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Emit(_ context.Context, e Event) {
	chain := e.Chain.String()
	m.events.WithLabelValues(string(e.Kind), chain).Inc()
	if e.Kind == KindCustodied {
		m.custodied.WithLabelValues(chain, e.Reason).Inc()
	}
}
