// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/playerstate/internal/cache"
	"github.com/ManuGH/playerstate/internal/captions"
	"github.com/ManuGH/playerstate/internal/resilience"
	"github.com/stretchr/testify/require"
)

var _ captions.Invalidator = (*HTTPFetcher)(nil)

const srt = "1\n00:00:01,000 --> 00:00:02,000\nHello\n"

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_OKAndCached(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, srt)
	})
	mem := cache.NewMemoryCache(0)
	defer mem.Close()

	f := New(Config{}, WithCache(mem), WithClient(srv.Client()))
	ctx := context.Background()

	body, err := f.Fetch(ctx, srv.URL+"/en.srt")
	require.NoError(t, err)
	require.Equal(t, srt, string(body))

	body, err = f.Fetch(ctx, srv.URL+"/en.srt")
	require.NoError(t, err)
	require.Equal(t, srt, string(body))
	require.EqualValues(t, 1, hits.Load())
}

func TestFetch_InvalidateRefetches(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = io.WriteString(w, "<html>maintenance</html>")
			return
		}
		_, _ = io.WriteString(w, srt)
	})
	mem := cache.NewMemoryCache(0)
	defer mem.Close()

	f := New(Config{}, WithCache(mem), WithClient(srv.Client()))
	ctx := context.Background()
	loc := srv.URL + "/en.srt"

	body, err := f.Fetch(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, "<html>maintenance</html>", string(body))

	f.Invalidate(ctx, loc)
	body, err = f.Fetch(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, srt, string(body))
	require.EqualValues(t, 2, hits.Load())
}

func TestFetch_StatusError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	f := New(Config{BreakerThreshold: 1}, WithClient(srv.Client()))

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/missing.srt")
		require.ErrorIs(t, err, ErrStatus)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, http.StatusNotFound, se.Code)
	}
}

func TestFetch_ServerErrorsOpenBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	f := New(Config{},
		WithClient(srv.Client()),
		WithBreakers(resilience.NewGroup("test:", 2, time.Hour)),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(ctx, srv.URL+"/x.srt")
		require.ErrorIs(t, err, ErrStatus)
	}
	_, err := f.Fetch(ctx, srv.URL+"/x.srt")
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	require.EqualValues(t, 2, hits.Load())
}

func TestFetch_BodyLimit(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 64))
	})
	f := New(Config{MaxBytes: 32}, WithClient(srv.Client()))

	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestFetch_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	f := New(Config{BreakerThreshold: 1}, WithClient(srv.Client()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A canceled fetch leaves the breaker closed.
	require.Equal(t, resilience.StateClosed, f.breakers.For(strings.TrimPrefix(srv.URL, "http://")).State())
}

func TestFetch_DataLocators(t *testing.T) {
	f := New(Config{MaxBytes: 64})
	ctx := context.Background()

	body, err := f.Fetch(ctx, "data:text/vtt;base64,V0VCVlRUCg==")
	require.NoError(t, err)
	require.Equal(t, "WEBVTT\n", string(body))

	body, err = f.Fetch(ctx, "data:,hello%20world")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))

	_, err = f.Fetch(ctx, "data:text/plain;base64")
	require.ErrorIs(t, err, ErrLocator)
}

func TestFetch_RejectsUnsupportedLocators(t *testing.T) {
	f := New(Config{})
	for _, loc := range []string{"", "ftp://x/y.srt", "/relative.srt", "http://"} {
		_, err := f.Fetch(context.Background(), loc)
		require.ErrorIs(t, err, ErrLocator, loc)
	}
}
