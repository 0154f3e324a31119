// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"time"

	xglog "github.com/ManuGH/playerstate/internal/log"
)

// AccessLog logs one line per request. Event streams are logged when they end.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)

		logger := xglog.WithComponentFromContext(r.Context(), "http")
		ev := logger.Info()
		if sw.statusCode >= 500 {
			ev = logger.Error()
		} else if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			ev = logger.Debug()
		}
		ev.Str(xglog.FieldEvent, "http.request").
			Str("method", r.Method).
			Str(xglog.FieldPath, r.URL.Path).
			Str("route", routePattern(r)).
			Int("status", sw.statusCode).
			Int("bytes", sw.bytesWritten).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
