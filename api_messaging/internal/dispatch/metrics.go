package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"frameworks/pkg/monitoring"
)

// Metrics holds dispatch counters. A nil *Metrics records nothing.
type Metrics struct {
	Outcomes     *prometheus.CounterVec
	SendAttempts *prometheus.CounterVec
	SendDuration *prometheus.HistogramVec
}

// NewMetrics registers the dispatch metrics on mc.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		Outcomes:     mc.NewCounter("dispatch_outcomes_total", "Dispatch results by billing outcome", []string{"outcome"}),
		SendAttempts: mc.NewCounter("send_attempts_total", "Send attempts by classification", []string{"result"}),
		SendDuration: mc.NewHistogram("send_duration_seconds", "Duration of one send attempt", []string{"result"}, nil),
	}
}

func (m *Metrics) outcome(o string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(o).Inc()
}

func (m *Metrics) attempt(result string, seconds float64) {
	if m == nil {
		return
	}
	m.SendAttempts.WithLabelValues(result).Inc()
	m.SendDuration.WithLabelValues(result).Observe(seconds)
}
