package resilience

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/kopi-pos/internal/obs"
)

// Breaker collectors, labelled by outbound target ("midtrans", "whatsapp").
var (
	BreakerState = obs.Register(prometheus.DefaultRegisterer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kopi_pos",
		Subsystem: "outbound",
		Name:      "breaker_state",
		Help:      "Breaker state per target: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"}))
	BreakerTransitions = obs.Register(prometheus.DefaultRegisterer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kopi_pos",
		Subsystem: "outbound",
		Name:      "breaker_transitions_total",
		Help:      "Breaker state changes per target.",
	}, []string{"target", "from", "to"}))
	BreakerOpenedTotal = obs.Register(prometheus.DefaultRegisterer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kopi_pos",
		Subsystem: "outbound",
		Name:      "breaker_opened_total",
		Help:      "Times a target's breaker tripped open.",
	}, []string{"target"}))
)
