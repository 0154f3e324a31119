// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLAYERD_"

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token")
}

// parseEnv looks key up and parses it. Empty or invalid values fall back to
// def; the chosen source is logged.
func parseEnv[T any](key string, def T, parse func(string) (T, error), field func(*zerolog.Event, string, T) *zerolog.Event) T {
	logger := xglog.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Err(err).Msg("invalid value in environment variable, using default")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = field(ev, "value", parsed)
	}
	ev.Msg("using environment variable")
	return parsed
}

// ParseString reads a string from the environment or returns def.
func ParseString(key, def string) string {
	return parseEnv(key, def, func(s string) (string, error) { return s, nil }, (*zerolog.Event).Str)
}

// ParseInt reads an integer from the environment or returns def.
func ParseInt(key string, def int) int {
	return parseEnv(key, def, strconv.Atoi, (*zerolog.Event).Int)
}

// ParseInt64 reads a 64-bit integer from the environment or returns def.
func ParseInt64(key string, def int64) int64 {
	return parseEnv(key, def, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }, (*zerolog.Event).Int64)
}

// ParseFloat reads a float64 from the environment or returns def.
func ParseFloat(key string, def float64) float64 {
	return parseEnv(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }, (*zerolog.Event).Float64)
}

// ParseDuration reads a Go duration ("5s") from the environment or returns def.
func ParseDuration(key string, def time.Duration) time.Duration {
	return parseEnv(key, def, time.ParseDuration, (*zerolog.Event).Dur)
}

// ParseBool accepts true/false, 1/0 and yes/no, case-insensitive.
func ParseBool(key string, def bool) bool {
	return parseEnv(key, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	}, (*zerolog.Event).Bool)
}

func envDuration(key string, def Duration) Duration {
	return Duration(ParseDuration(key, def.Std()))
}

// applyEnv overlays PLAYERD_* variables onto cfg.
func applyEnv(cfg *Config) {
	p := EnvPrefix
	cfg.Listen = ParseString(p+"LISTEN", cfg.Listen)
	cfg.DataDir = ParseString(p+"DATA_DIR", cfg.DataDir)
	cfg.LogLevel = ParseString(p+"LOG_LEVEL", cfg.LogLevel)
	cfg.Catalog = ParseString(p+"CATALOG", cfg.Catalog)

	cfg.Captions.AutoLoad = ParseBool(p+"CAPTIONS_AUTOLOAD", cfg.Captions.AutoLoad)
	cfg.Captions.Language = ParseString(p+"CAPTIONS_LANGUAGE", cfg.Captions.Language)
	cfg.Captions.AutoLoadDelay = envDuration(p+"CAPTIONS_AUTOLOAD_DELAY", cfg.Captions.AutoLoadDelay)
	cfg.Captions.PopoutCloseDelay = envDuration(p+"CAPTIONS_POPOUT_CLOSE_DELAY", cfg.Captions.PopoutCloseDelay)
	cfg.Captions.FetchTimeout = envDuration(p+"CAPTIONS_FETCH_TIMEOUT", cfg.Captions.FetchTimeout)

	cfg.Fetch.Timeout = envDuration(p+"FETCH_TIMEOUT", cfg.Fetch.Timeout)
	cfg.Fetch.MaxBytes = ParseInt64(p+"FETCH_MAX_BYTES", cfg.Fetch.MaxBytes)
	cfg.Fetch.RatePerSecond = ParseFloat(p+"FETCH_RATE", cfg.Fetch.RatePerSecond)
	cfg.Fetch.Burst = ParseInt(p+"FETCH_BURST", cfg.Fetch.Burst)

	cfg.Cache.Backend = ParseString(p+"CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Redis.Addr = ParseString(p+"REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = ParseString(p+"REDIS_PASSWORD", cfg.Cache.Redis.Password)
	cfg.Cache.Redis.DB = ParseInt(p+"REDIS_DB", cfg.Cache.Redis.DB)

	cfg.Resume.Backend = ParseString(p+"RESUME_BACKEND", cfg.Resume.Backend)
	cfg.Resume.SaveInterval = envDuration(p+"RESUME_SAVE_INTERVAL", cfg.Resume.SaveInterval)

	cfg.API.RateLimit = ParseInt(p+"API_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Telemetry.Enabled = ParseBool(p+"TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString(p+"TRACING_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.ExporterType = ParseString(p+"TRACING_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.SamplingRate = ParseFloat(p+"TRACING_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
