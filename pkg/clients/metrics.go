package clients

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerMetricsOnce sync.Once
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
)

// registerBreakerMetrics registers on the default registry the first time a
// breaker reports, so importing the package registers nothing.
func registerBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		f := promauto.With(prometheus.DefaultRegisterer)
		breakerState = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "client_circuit_breaker_state",
			Help: "Circuit breaker state per downstream (0=closed, 1=half-open, 2=open)",
		}, []string{"name"})
		breakerTransitions = f.NewCounterVec(prometheus.CounterOpts{
			Name: "client_circuit_breaker_transitions_total",
			Help: "Circuit breaker state changes per downstream",
		}, []string{"name", "from", "to"})
	})
}

// RecordCircuitBreakerTransition exports one state change.
func RecordCircuitBreakerTransition(name string, from, to CircuitBreakerState) {
	registerBreakerMetrics()
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(name).Set(float64(to))
}

// CircuitBreakerMetricsCallback is an OnStateChange hook that exports state changes.
func CircuitBreakerMetricsCallback() func(string, CircuitBreakerState, CircuitBreakerState) {
	return RecordCircuitBreakerTransition
}
