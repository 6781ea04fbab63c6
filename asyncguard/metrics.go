package asyncguard

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels used by Metrics
const (
	OutcomeTrue      = "true"
	OutcomeFalse     = "false"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics records async guard evaluations
type Metrics struct {
	Evaluations *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	InFlight    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fluo",
				Subsystem: "async_guard",
				Name:      "evaluations_total",
				Help:      "Async guard evaluations by guard and outcome.",
			},
			[]string{"guard", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fluo",
				Subsystem: "async_guard",
				Name:      "evaluation_duration_seconds",
				Help:      "Time from task spawn to predicate resolution.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"guard"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fluo",
				Subsystem: "async_guard",
				Name:      "in_flight",
				Help:      "Async guard tasks currently running.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Evaluations, m.Duration, m.InFlight)
	}
	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) finished(guard, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Evaluations.WithLabelValues(guard, outcome).Inc()
	if outcome != OutcomeCancelled {
		m.Duration.WithLabelValues(guard).Observe(elapsed.Seconds())
	}
}
