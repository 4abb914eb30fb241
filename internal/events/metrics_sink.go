package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type MetricsSink struct {
	operations *prometheus.CounterVec
	units      *prometheus.CounterVec
}

func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stock",
			Name:      "operations_total",
			Help:      "Stock engine operations by type and outcome.",
		}, []string{"type", "outcome"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stock",
			Name:      "units_total",
			Help:      "Units moved by successful stock engine operations.",
		}, []string{"type"}),
	}
	reg.MustRegister(s.operations, s.units)
	return s
}

func (s *MetricsSink) Emit(_ context.Context, e Event) {
	s.operations.WithLabelValues(string(e.Type), e.Outcome).Inc()
	if e.Err == nil && e.Outcome == "ok" && e.Quantity > 0 {
		s.units.WithLabelValues(string(e.Type)).Add(float64(e.Quantity))
	}
}
