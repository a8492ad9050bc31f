package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records dispatcher outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	events     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	duration   prometheus.Histogram
}

// NewMetrics registers the notify collectors on reg. A nil reg returns nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dasma",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "RSVP events processed, by outcome.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dasma",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts, by channel and result.",
		}, []string{"channel", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dasma",
			Subsystem: "notify",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one RSVP fan-out.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.events, m.deliveries, m.duration)
	return m
}

func (m *Metrics) event(result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(result).Inc()
}

func (m *Metrics) delivery(ch Channel, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(ch), result).Inc()
}

func (m *Metrics) observe(start time.Time) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
}
