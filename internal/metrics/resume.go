// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var resumeWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playerd_resume_writes_total",
	Help: "Resume position writes by result (ok|error)",
}, []string{"result"})

// RecordResumeWrite counts a resume persistence attempt.
func RecordResumeWrite(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	resumeWritesTotal.WithLabelValues(result).Inc()
}
