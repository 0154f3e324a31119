// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playerd_caption_origin_breaker_state",
		Help: "Caption origin breaker state (1 for the active state, 0 otherwise)",
	}, []string{"breaker", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_caption_origin_breaker_trips_total",
		Help: "Transitions of a caption origin breaker to open",
	}, []string{"breaker", "reason"})

	breakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_caption_origin_breaker_rejections_total",
		Help: "Fetches refused because the origin breaker was open or probing",
	}, []string{"breaker"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetCircuitBreakerState marks state as the active one for breaker.
func SetCircuitBreakerState(breaker, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(breaker, s).Set(v)
	}
}

func RecordCircuitBreakerTrip(breaker, reason string) {
	breakerTrips.WithLabelValues(breaker, reason).Inc()
}

func RecordCircuitBreakerRejection(breaker string) {
	breakerRejections.WithLabelValues(breaker).Inc()
}
