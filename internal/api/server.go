// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes mounted players over HTTP: commands, slice snapshots
// and slice event streams.
package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/playerstate/internal/api/middleware"
	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/player"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config tunes the HTTP surface.
type Config struct {
	// RateLimit bounds mutating requests per client IP and window. Zero
	// disables limiting.
	RateLimit       int
	RateLimitWindow time.Duration
	// TracingService names the server spans. Empty disables tracing.
	TracingService string
	// Heartbeat is the keep-alive interval of event streams.
	Heartbeat    time.Duration
	MaxBodyBytes int64
}

func DefaultConfig() Config {
	return Config{
		RateLimit:       120,
		RateLimitWindow: time.Minute,
		Heartbeat:       15 * time.Second,
		MaxBodyBytes:    64 << 10,
	}
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Server serves the player API.
type Server struct {
	player *player.Player
	cfg    Config
	logger zerolog.Logger

	mu     sync.RWMutex
	checks map[string]HealthCheck

	handler http.Handler
}

func New(p *player.Player, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	s := &Server{
		player: p,
		cfg:    cfg,
		logger: xglog.WithComponent("api"),
		checks: make(map[string]HealthCheck),
	}
	s.handler = s.routes()
	return s
}

// AddHealthCheck registers a dependency probed by /healthz.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	s.checks[name] = check
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	limit := func(next http.Handler) http.Handler { return next }
	if s.cfg.RateLimit > 0 {
		limit = middleware.RateLimit(middleware.RateLimitConfig{
			RequestLimit: s.cfg.RateLimit,
			WindowSize:   s.cfg.RateLimitWindow,
		})
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/blobs/{id}", s.handleBlob)
		r.Route("/players", func(r chi.Router) {
			r.With(limit).Post("/", s.handleMount)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.resolvePlayer)
				r.With(limit).Delete("/", s.handleUnmount)
				r.With(limit).Post("/media", s.handleLoadMedia)
				r.With(limit).Post("/controls", s.handleControls)
				r.With(limit).Post("/captions", s.handleLoadCaption)
				r.Get("/captions/status", s.handleCaptionStatus)
				r.Get("/slices/{kind}", s.handleSlice)
				r.Get("/slices/{kind}/events", s.handleSliceEvents)
			})
		})
	})
	return r
}

type healthResponse struct {
	Status  string            `json:"status"`
	Players int               `json:"players"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Players: s.player.Len()}
	code := http.StatusOK
	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}
