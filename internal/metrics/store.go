// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	playersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playerd_players_active",
		Help: "Number of mounted player descriptors",
	})

	SliceMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_slice_mutations_total",
		Help: "Committed slice mutations by slice kind and outcome (changed|unchanged|rejected)",
	}, []string{"slice", "outcome"})
)

// SetPlayersActive records the number of live descriptors.
func SetPlayersActive(n int) {
	playersActive.Set(float64(n))
}

// RecordSliceMutation counts one mutation attempt on a slice.
func RecordSliceMutation(slice, outcome string) {
	SliceMutationsTotal.WithLabelValues(slice, outcome).Inc()
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
