package messaging

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports session state and send outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	state *prometheus.GaugeVec
	sends *prometheus.CounterVec
}

// NewMetrics registers the messaging collectors on reg. A nil reg returns nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dasma",
			Subsystem: "messaging",
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dasma",
			Subsystem: "messaging",
			Name:      "sends_total",
			Help:      "Outbound messages, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.state, m.sends)
	m.setState(StateUninitialized)
	return m
}

func (m *Metrics) setState(cur State) {
	if m == nil {
		return
	}
	for s := range stateNames {
		v := 0.0
		if State(s) == cur {
			v = 1
		}
		m.state.WithLabelValues(State(s).String()).Set(v)
	}
}

func (m *Metrics) send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}
