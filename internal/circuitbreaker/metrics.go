package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	rejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_circuit_breaker_rejected_total",
			Help: "Calls rejected while the breaker was open or probing",
		},
		[]string{"breaker"},
	)
)
