// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ManuGH/playerstate/internal/cache"
	"github.com/ManuGH/playerstate/internal/resume"
	"github.com/rs/zerolog"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

var ErrInvalid = errors.New("invalid configuration")

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Validate checks cfg for values playerd cannot run with.
func Validate(cfg Config) error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		add("listen: %v", err)
	}
	if cfg.LogLevel != "" {
		if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
			add("logLevel: %v", err)
		}
	}

	c := cfg.Captions
	if c.AutoLoad && strings.TrimSpace(c.Language) == "" {
		add("captions.language: required when autoLoad is enabled")
	}
	if c.AutoLoadDelay < 0 || c.PopoutCloseDelay < 0 || c.FetchTimeout < 0 {
		add("captions: delays must not be negative")
	}

	f := cfg.Fetch
	if f.MaxBytes < 0 || f.RatePerSecond < 0 || f.Burst < 0 || f.BreakerThreshold < 0 {
		add("fetch: limits must not be negative")
	}

	switch cfg.Cache.Backend {
	case "", cache.BackendMemory, cache.BackendNone:
	case cache.BackendRedis:
		if cfg.Cache.Redis.Addr == "" {
			add("cache.redis.addr: required for the redis backend")
		}
	default:
		add("cache.backend: unknown backend %q (supported: memory, redis, none)", cfg.Cache.Backend)
	}

	switch cfg.Resume.Backend {
	case "", resume.BackendSqlite, resume.BackendMemory:
	default:
		add("resume.backend: unknown backend %q (supported: sqlite, memory)", cfg.Resume.Backend)
	}

	if cfg.API.RateLimit < 0 {
		add("api.rateLimit: must not be negative")
	}

	t := cfg.Telemetry
	if t.Enabled {
		if t.ExporterType != "grpc" && t.ExporterType != "http" {
			add("telemetry.exporter: %q (supported: grpc, http)", t.ExporterType)
		}
		if t.Endpoint == "" {
			add("telemetry.endpoint: required when tracing is enabled")
		}
		if t.SamplingRate < 0 || t.SamplingRate > 1 {
			add("telemetry.samplingRate: must be within [0, 1]")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
