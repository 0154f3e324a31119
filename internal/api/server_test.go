// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/playerstate/internal/blob"
	"github.com/ManuGH/playerstate/internal/captions"
	"github.com/ManuGH/playerstate/internal/media"
	"github.com/ManuGH/playerstate/internal/player"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const captionURL = "https://subs.example.org/m1.en.vtt"

type mapFetcher map[string]string

func (f mapFetcher) Fetch(_ context.Context, locator string) ([]byte, error) {
	body, ok := f[locator]
	if !ok {
		return nil, fmt.Errorf("no document at %s", locator)
	}
	return []byte(body), nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *player.Player) {
	t.Helper()
	cat, err := media.NewCatalog([]media.Item{{
		ID:       "movie-1",
		Source:   state.SourceState{URL: "https://media.example.org/m1.m3u8"},
		Captions: []state.CaptionTrack{{LangISO: "en", URL: captionURL}},
	}})
	require.NoError(t, err)

	pol := captions.DefaultPolicy()
	pol.AutoLoad = false
	p := player.New(player.Deps{
		Fetcher: mapFetcher{captionURL: "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHi\n"},
		Meta:    cat,
		Sources: cat,
	}, player.WithPolicy(pol))
	t.Cleanup(func() { require.NoError(t, p.Shutdown(context.Background())) })
	return New(p, cfg), p
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func mountPlayer(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/players", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp mountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func decodeSlice[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env struct {
		Kind  string `json:"kind"`
		Value T      `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Value
}

func TestPlayerLifecycle(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()
	id := mountPlayer(t, h)
	base := "/v1/players/" + id

	cs := decodeSlice[state.ControlsState](t, do(t, h, http.MethodGet, base+"/slices/controls", nil))
	assert.Equal(t, 1.0, cs.Volume)

	rec := do(t, h, http.MethodPost, base+"/media", loadMediaRequest{MediaID: "movie-1"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	src := decodeSlice[state.SourceState](t, do(t, h, http.MethodGet, base+"/slices/source", nil))
	assert.Equal(t, state.SourceHLS, src.Type)

	pos := int64(90_000)
	rec = do(t, h, http.MethodPost, base+"/controls", controlRequest{Command: "report_time", PositionMS: &pos, DurationMS: 600_000})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, base+"/controls", controlRequest{Command: "open_popout", Popout: "settings"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	cs = decodeSlice[state.ControlsState](t, do(t, h, http.MethodGet, base+"/slices/controls", nil))
	assert.Equal(t, 90*time.Second, cs.Position)
	is := decodeSlice[state.InterfaceState](t, do(t, h, http.MethodGet, base+"/slices/interface", nil))
	assert.Equal(t, "settings", is.Popout)

	rec = do(t, h, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, base+"/slices/controls", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestErrors(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()
	id := mountPlayer(t, h)
	base := "/v1/players/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{name: "malformed id", method: http.MethodGet, path: "/v1/players/nope/slices/meta", code: http.StatusBadRequest},
		{name: "unknown player", method: http.MethodGet, path: "/v1/players/6f1c1a52-8d9e-4d65-9a3c-0d2b4a7c1e11/slices/meta", code: http.StatusNotFound},
		{name: "unknown kind", method: http.MethodGet, path: base + "/slices/playback", code: http.StatusBadRequest},
		{name: "unknown command", method: http.MethodPost, path: base + "/controls", body: controlRequest{Command: "rewind"}, code: http.StatusBadRequest},
		{name: "seek without position", method: http.MethodPost, path: base + "/controls", body: controlRequest{Command: "seek"}, code: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: base + "/controls", body: map[string]any{"command": "play", "speed": 2}, code: http.StatusBadRequest},
		{name: "empty body", method: http.MethodPost, path: base + "/media", code: http.StatusBadRequest},
		{name: "unknown media", method: http.MethodPost, path: base + "/media", body: loadMediaRequest{MediaID: "missing"}, code: http.StatusNotFound},
		{name: "caption without url", method: http.MethodPost, path: base + "/captions", body: loadCaptionRequest{Lang: "en"}, code: http.StatusBadRequest},
		{name: "unknown blob", method: http.MethodGet, path: "/v1/blobs/unknown", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestCaptionLoadAndBlob(t *testing.T) {
	s, p := newTestServer(t, Config{})
	h := s.Handler()
	id := mountPlayer(t, h)
	base := "/v1/players/" + id

	rec := do(t, h, http.MethodPost, base+"/captions", loadCaptionRequest{Lang: "en", URL: captionURL})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var issued loadCaptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	assert.Equal(t, "external-en", issued.CaptionID)
	p.Coordinator().Wait()

	rec = do(t, h, http.MethodGet, base+"/captions/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st captionStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, captions.StateApplied, st.State)
	assert.Equal(t, issued.Token, st.Token)

	cs := decodeSlice[state.ControlsState](t, do(t, h, http.MethodGet, base+"/slices/controls", nil))
	require.True(t, strings.HasPrefix(cs.Caption.URL, blob.Scheme))
	assert.True(t, cs.Playing)

	rec = do(t, h, http.MethodGet, "/v1/blobs/"+blob.ID(cs.Caption.URL), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/vtt; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "WEBVTT")

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, base, nil).Code)
	rec = do(t, h, http.MethodGet, "/v1/blobs/"+blob.ID(cs.Caption.URL), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "blobs are revoked with their player")
}

func TestSliceEvents_StreamCurrentValueThenChanges(t *testing.T) {
	s, _ := newTestServer(t, Config{Heartbeat: time.Hour})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	id := mountPlayer(t, s.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/players/"+id+"/slices/interface/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sliceEvent, 8)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev struct {
				Descriptor string               `json:"descriptor"`
				Kind       string               `json:"kind"`
				Seq        uint64               `json:"seq"`
				Value      state.InterfaceState `json:"value"`
			}
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) != nil || ev.Kind == "" {
				continue
			}
			events <- sliceEvent{Descriptor: ev.Descriptor, Kind: ev.Kind, Seq: ev.Seq, Value: ev.Value}
		}
	}()

	next := func() sliceEvent {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream ended")
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("no event")
		}
		return sliceEvent{}
	}

	first := next()
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, "interface", first.Kind)
	assert.Equal(t, id, first.Descriptor)

	rec := do(t, s.Handler(), http.MethodPost, "/v1/players/"+id+"/controls", controlRequest{Command: "open_popout", Popout: "settings"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	second := next()
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, "settings", second.Value.(state.InterfaceState).Popout)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s.AddHealthCheck("cache", func(context.Context) error { return errors.New("redis unreachable") })
	rec = do(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "redis unreachable", body.Checks["cache"])

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "playerd_http_request_duration_seconds")
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	s, _ := newTestServer(t, Config{RateLimit: 2, RateLimitWindow: time.Minute})
	h := s.Handler()

	mountPlayer(t, h)
	mountPlayer(t, h)
	rec := do(t, h, http.MethodPost, "/v1/players", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
}
