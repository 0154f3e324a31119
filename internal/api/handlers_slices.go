// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/go-chi/chi/v5"
)

// sliceEvent is the wire form of a slice value.
type sliceEvent struct {
	Descriptor string      `json:"descriptor"`
	Kind       string      `json:"kind"`
	Seq        uint64      `json:"seq,omitempty"`
	Value      state.Slice `json:"value"`
}

func kindParam(r *http.Request) (state.Kind, error) {
	k, err := state.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return k, nil
}

func (s *Server) handleSlice(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d := descriptor.MustFromContext(r.Context())
	v, err := s.player.Store().Get(d, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sliceEvent{Descriptor: d.String(), Kind: kind.String(), Value: v})
}

// handleSliceEvents streams the current value and every later one as
// server-sent events until the client goes away or the player unmounts.
func (s *Server) handleSliceEvents(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}
	sub, err := s.player.Store().SubscribeContext(r.Context(), kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Debug().Str(xglog.FieldEvent, "api.stream_opened").Str(xglog.FieldSlice, kind.String()).Msg("slice stream opened")

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case u, ok := <-sub.C():
			if !ok {
				_, _ = fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(sliceEvent{Descriptor: u.Descriptor, Kind: u.Kind.String(), Seq: u.Seq, Value: u.Value})
			if err != nil {
				logger.Error().Err(err).Msg("encode slice event")
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", u.Seq, u.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
