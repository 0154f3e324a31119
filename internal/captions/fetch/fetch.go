// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fetch retrieves caption documents from remote locators.
//
// A fetch consults the cache first, then waits on the shared rate limiter,
// then runs the GET inside the circuit breaker of the locator's host.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/playerstate/internal/cache"
	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/metrics"
	"github.com/ManuGH/playerstate/internal/platform/httpx"
	"github.com/ManuGH/playerstate/internal/resilience"
	"github.com/ManuGH/playerstate/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var (
	// ErrStatus is returned for non-2xx responses.
	ErrStatus = errors.New("unexpected caption response status")
	// ErrTooLarge is returned when a body exceeds Config.MaxBytes.
	ErrTooLarge = errors.New("caption body too large")
	// ErrLocator is returned for locators that cannot be fetched.
	ErrLocator = errors.New("unsupported caption locator")
)

// StatusError carries the HTTP status of a failed fetch.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: %d", ErrStatus, e.Code) }
func (e *StatusError) Unwrap() error { return ErrStatus }

// Config tunes the fetcher. Zero values take the defaults below.
type Config struct {
	Timeout          time.Duration
	MaxBytes         int64
	CacheTTL         time.Duration
	RatePerSecond    float64
	Burst            int
	BreakerThreshold int
	BreakerReset     time.Duration
}

const (
	DefaultTimeout  = 15 * time.Second
	DefaultMaxBytes = 2 << 20
	DefaultCacheTTL = 10 * time.Minute
	DefaultRate     = 20
	DefaultBurst    = 10
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRate
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	return c
}

// HTTPFetcher implements the coordinator's fetch port over HTTP.
type HTTPFetcher struct {
	cfg      Config
	client   *http.Client
	cache    cache.Cache
	limiter  *rate.Limiter
	breakers *resilience.Group
	logger   zerolog.Logger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

func WithCache(c cache.Cache) Option {
	return func(f *HTTPFetcher) { f.cache = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *HTTPFetcher) { f.logger = l }
}

// WithBreakers replaces the per-host breaker group.
func WithBreakers(g *resilience.Group) Option {
	return func(f *HTTPFetcher) { f.breakers = g }
}

// New builds a fetcher. Without WithCache nothing is cached.
func New(cfg Config, opts ...Option) *HTTPFetcher {
	cfg = cfg.withDefaults()
	f := &HTTPFetcher{
		cfg:      cfg,
		cache:    cache.NewNoOpCache(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breakers: resilience.NewGroup("captions:", cfg.BreakerThreshold, cfg.BreakerReset),
		logger:   xglog.WithComponent("captions.fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = httpx.NewClient(cfg.Timeout)
	}
	return f
}

// Fetch returns the raw caption document behind locator.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	ctx, span := telemetry.Tracer("playerd/captions").Start(ctx, "captions.fetch")
	defer span.End()

	if strings.HasPrefix(locator, "data:") {
		body, err := decodeDataURL(locator, f.cfg.MaxBytes)
		span.SetAttributes(telemetry.FetchAttributes("", false, len(body))...)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return body, err
	}

	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		err = fmt.Errorf("%w: %q", ErrLocator, locator)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if body, ok := f.cache.Get(ctx, locator); ok {
		metrics.RecordCaptionCache(true)
		span.SetAttributes(telemetry.FetchAttributes(locator, true, len(body))...)
		return body, nil
	}
	metrics.RecordCaptionCache(false)

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var (
		body      []byte
		clientErr error
	)
	err = f.breakers.For(u.Host).Execute(ctx, func(ctx context.Context) error {
		var getErr error
		body, getErr = f.get(ctx, u.String())
		// 4xx answers mean the origin is healthy.
		var se *StatusError
		if errors.As(getErr, &se) && se.Code < 500 {
			clientErr = getErr
			return nil
		}
		return getErr
	})
	if err == nil {
		err = clientErr
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		f.logger.Debug().Err(err).
			Str(xglog.FieldEvent, "captions.fetch_failed").
			Str(xglog.FieldLocator, locator).
			Msg("caption fetch failed")
		return nil, err
	}

	span.SetAttributes(telemetry.FetchAttributes(locator, false, len(body))...)
	f.cache.Set(ctx, locator, body, f.cfg.CacheTTL)
	return body, nil
}

// Invalidate drops the cached document for locator, so the next Fetch goes
// back to the origin.
func (f *HTTPFetcher) Invalidate(ctx context.Context, locator string) {
	f.cache.Delete(ctx, locator)
	f.logger.Debug().
		Str(xglog.FieldEvent, "captions.cache_invalidated").
		Str(xglog.FieldLocator, locator).
		Msg("cached caption document dropped")
}

func (f *HTTPFetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/vtt, application/x-subrip, text/plain;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read caption body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.cfg.MaxBytes)
	}
	return body, nil
}
