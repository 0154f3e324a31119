// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the playerd configuration. Precedence is
// environment, then file, then defaults.
package config

import (
	"time"

	"github.com/ManuGH/playerstate/internal/api"
	"github.com/ManuGH/playerstate/internal/cache"
	"github.com/ManuGH/playerstate/internal/captions"
	"github.com/ManuGH/playerstate/internal/captions/fetch"
	"github.com/ManuGH/playerstate/internal/telemetry"
)

// Config is the complete playerd configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	DataDir   string           `yaml:"dataDir"`
	LogLevel  string           `yaml:"logLevel"`
	Catalog   string           `yaml:"catalog"`
	Captions  CaptionsConfig   `yaml:"captions"`
	Fetch     FetchConfig      `yaml:"fetch"`
	Cache     CacheConfig      `yaml:"cache"`
	Resume    ResumeConfig     `yaml:"resume"`
	API       APIConfig        `yaml:"api"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// CaptionsConfig is the caption coordinator policy. It is hot-reloadable.
type CaptionsConfig struct {
	AutoLoad         bool     `yaml:"autoLoad"`
	Language         string   `yaml:"language"`
	AutoLoadDelay    Duration `yaml:"autoLoadDelay"`
	PopoutCloseDelay Duration `yaml:"popoutCloseDelay"`
	FetchTimeout     Duration `yaml:"fetchTimeout"`
}

type FetchConfig struct {
	Timeout          Duration `yaml:"timeout"`
	MaxBytes         int64    `yaml:"maxBytes"`
	CacheTTL         Duration `yaml:"cacheTTL"`
	RatePerSecond    float64  `yaml:"ratePerSecond"`
	Burst            int      `yaml:"burst"`
	BreakerThreshold int      `yaml:"breakerThreshold"`
	BreakerReset     Duration `yaml:"breakerReset"`
}

type CacheConfig struct {
	Backend         string            `yaml:"backend"` // memory | redis | none
	CleanupInterval Duration          `yaml:"cleanupInterval"`
	Redis           cache.RedisConfig `yaml:"redis"`
}

type ResumeConfig struct {
	Backend      string   `yaml:"backend"` // sqlite | memory
	SaveInterval Duration `yaml:"saveInterval"`
}

type APIConfig struct {
	RateLimit       int      `yaml:"rateLimit"`
	RateLimitWindow Duration `yaml:"rateLimitWindow"`
	Heartbeat       Duration `yaml:"heartbeat"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes"`
}

// Default returns the built-in configuration.
func Default() Config {
	pol := captions.DefaultPolicy()
	apiDef := api.DefaultConfig()
	return Config{
		Listen:   ":8080",
		DataDir:  "/var/lib/playerd",
		LogLevel: "info",
		Captions: CaptionsConfig{
			AutoLoad:         pol.AutoLoad,
			Language:         pol.AutoLoadLanguage,
			AutoLoadDelay:    Duration(pol.AutoLoadDelay),
			PopoutCloseDelay: Duration(pol.PopoutCloseDelay),
			FetchTimeout:     Duration(pol.FetchTimeout),
		},
		Fetch: FetchConfig{
			Timeout:          Duration(fetch.DefaultTimeout),
			MaxBytes:         fetch.DefaultMaxBytes,
			CacheTTL:         Duration(fetch.DefaultCacheTTL),
			RatePerSecond:    fetch.DefaultRate,
			Burst:            fetch.DefaultBurst,
			BreakerThreshold: 5,
			BreakerReset:     Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			Backend:         cache.BackendMemory,
			CleanupInterval: Duration(time.Minute),
			Redis:           cache.RedisConfig{KeyPrefix: cache.DefaultKeyPrefix},
		},
		Resume: ResumeConfig{
			Backend:      "sqlite",
			SaveInterval: Duration(10 * time.Second),
		},
		API: APIConfig{
			RateLimit:       apiDef.RateLimit,
			RateLimitWindow: Duration(apiDef.RateLimitWindow),
			Heartbeat:       Duration(apiDef.Heartbeat),
			MaxBodyBytes:    apiDef.MaxBodyBytes,
		},
		Telemetry: telemetry.Config{
			ServiceName:  "playerd",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// CaptionPolicy converts the captions section for the coordinator.
func (c Config) CaptionPolicy() captions.Policy {
	return captions.Policy{
		AutoLoad:         c.Captions.AutoLoad,
		AutoLoadLanguage: c.Captions.Language,
		AutoLoadDelay:    c.Captions.AutoLoadDelay.Std(),
		PopoutCloseDelay: c.Captions.PopoutCloseDelay.Std(),
		FetchTimeout:     c.Captions.FetchTimeout.Std(),
	}
}

func (c Config) FetchConfig() fetch.Config {
	return fetch.Config{
		Timeout:          c.Fetch.Timeout.Std(),
		MaxBytes:         c.Fetch.MaxBytes,
		CacheTTL:         c.Fetch.CacheTTL.Std(),
		RatePerSecond:    c.Fetch.RatePerSecond,
		Burst:            c.Fetch.Burst,
		BreakerThreshold: c.Fetch.BreakerThreshold,
		BreakerReset:     c.Fetch.BreakerReset.Std(),
	}
}

func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Backend:         c.Cache.Backend,
		CleanupInterval: c.Cache.CleanupInterval.Std(),
		Redis:           c.Cache.Redis,
	}
}

func (c Config) APIConfig() api.Config {
	cfg := api.Config{
		RateLimit:       c.API.RateLimit,
		RateLimitWindow: c.API.RateLimitWindow.Std(),
		Heartbeat:       c.API.Heartbeat.Std(),
		MaxBodyBytes:    c.API.MaxBodyBytes,
	}
	if c.Telemetry.Enabled {
		cfg.TracingService = c.Telemetry.ServiceName
	}
	return cfg
}
