// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptionLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_caption_loads_total",
		Help: "Caption loads by trigger (manual|auto) and outcome (applied|superseded|fetch_failed|parse_failed)",
	}, []string{"trigger", "outcome"})

	captionLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playerd_caption_load_duration_seconds",
		Help:    "Time from issue to completion of a caption load by outcome",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	CaptionFetchCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerd_caption_fetch_cache_total",
		Help: "Caption fetch cache lookups by result (hit|miss)",
	}, []string{"result"})

	captionAutoScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playerd_caption_auto_scheduled_total",
		Help: "Auto caption loads scheduled after an episode change",
	})
)

// RecordCaptionLoad records a finished caption load.
func RecordCaptionLoad(trigger, outcome string, elapsed time.Duration) {
	if trigger == "" {
		trigger = "manual"
	}
	CaptionLoadsTotal.WithLabelValues(trigger, outcome).Inc()
	captionLoadDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordCaptionCache records a fetch cache lookup.
func RecordCaptionCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CaptionFetchCacheTotal.WithLabelValues(result).Inc()
}

// IncCaptionAutoScheduled counts an auto-load debounce being armed.
func IncCaptionAutoScheduled() {
	captionAutoScheduled.Inc()
}
