// Package prom exports unit transitions as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	ld "github.com/ineyio/llmdispatch"
)

// Meter records transitions into Prometheus collectors.
type Meter struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	units       *prometheus.CounterVec
	cost        *prometheus.CounterVec
	inflight    *prometheus.GaugeVec
}

var _ ld.Meter = (*Meter)(nil)

// New creates a Meter and registers its collectors with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Meter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Meter{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdispatch_transitions_total",
				Help: "Unit state transitions by bucket and phase",
			},
			[]string{"bucket", "phase"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmdispatch_request_duration_seconds",
				Help:    "Time from submission to terminal state",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"bucket", "phase"},
		),
		units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdispatch_units_total",
				Help: "Prompt and completion units of terminal requests",
			},
			[]string{"bucket", "kind"},
		),
		cost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdispatch_cost_total",
				Help: "Accumulated cost of terminal requests",
			},
			[]string{"bucket"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llmdispatch_units_active",
				Help: "Submitted requests not yet terminal",
			},
			[]string{"bucket"},
		),
	}
	for _, c := range []prometheus.Collector{m.transitions, m.duration, m.units, m.cost, m.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Meter) OnTransition(e ld.TransitionEvent) {
	bucket := e.Bucket.String()
	phase := string(e.Phase)
	m.transitions.WithLabelValues(bucket, phase).Inc()

	switch {
	case e.Phase == ld.PhaseQueued:
		m.inflight.WithLabelValues(bucket).Inc()
	case e.Phase.Terminal():
		m.inflight.WithLabelValues(bucket).Dec()
		m.duration.WithLabelValues(bucket, phase).Observe(e.Elapsed.Seconds())
		m.units.WithLabelValues(bucket, "prompt").Add(float64(e.PromptUnits))
		m.units.WithLabelValues(bucket, "completion").Add(float64(e.CompletionUnits))
		m.cost.WithLabelValues(bucket).Add(e.Cost)
	}
}
