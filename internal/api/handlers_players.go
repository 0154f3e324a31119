// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/player"
	"github.com/ManuGH/playerstate/internal/player/controls"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/go-chi/chi/v5"
)

type instanceKey struct{}

// resolvePlayer binds the request to the addressed player instance. Handlers
// below it resolve the descriptor from the context.
func (s *Server) resolvePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, err := s.player.Lookup(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := descriptor.WithDescriptor(r.Context(), in.Descriptor())
		ctx = xglog.ContextWithDescriptor(ctx, in.Descriptor().String())
		ctx = context.WithValue(ctx, instanceKey{}, in)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func instanceFrom(r *http.Request) *player.Instance {
	return r.Context().Value(instanceKey{}).(*player.Instance)
}

// decodeJSON reads a strict JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

type mountResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	in, err := s.player.Mount(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/players/"+in.Descriptor().String())
	writeJSON(w, http.StatusCreated, mountResponse{ID: in.Descriptor().String()})
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	instanceFrom(r).Unmount()
	w.WriteHeader(http.StatusNoContent)
}

type loadMediaRequest struct {
	MediaID   string `json:"media_id"`
	EpisodeID string `json:"episode_id,omitempty"`
}

func (s *Server) handleLoadMedia(w http.ResponseWriter, r *http.Request) {
	var req loadMediaRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.MediaID) == "" {
		writeError(w, r, fmt.Errorf("%w: media_id is required", errBadRequest))
		return
	}
	if err := instanceFrom(r).LoadMedia(r.Context(), req.MediaID, req.EpisodeID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type controlRequest struct {
	Command    string   `json:"command"`
	PositionMS *int64   `json:"position_ms,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	Popout     string   `json:"popout,omitempty"`
	Value      *bool    `json:"value,omitempty"`
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := dispatch(controls.FromContext(r.Context(), s.player.Store()), req); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func dispatch(c controls.Controls, req controlRequest) error {
	need := func(ok bool, field string) error {
		if !ok {
			return fmt.Errorf("%w: %s requires %s", errBadRequest, req.Command, field)
		}
		return nil
	}
	switch req.Command {
	case "play":
		return c.Play()
	case "pause":
		return c.Pause()
	case "seek":
		if err := need(req.PositionMS != nil, "position_ms"); err != nil {
			return err
		}
		return c.Seek(time.Duration(*req.PositionMS) * time.Millisecond)
	case "report_time":
		if err := need(req.PositionMS != nil, "position_ms"); err != nil {
			return err
		}
		return c.ReportTime(time.Duration(*req.PositionMS)*time.Millisecond, time.Duration(req.DurationMS)*time.Millisecond)
	case "volume":
		if err := need(req.Volume != nil, "volume"); err != nil {
			return err
		}
		return c.SetVolume(*req.Volume)
	case "open_popout":
		if err := need(req.Popout != "", "popout"); err != nil {
			return err
		}
		return c.OpenPopout(req.Popout)
	case "close_popout":
		return c.ClosePopout()
	case "hover_left_controls":
		if err := need(req.Value != nil, "value"); err != nil {
			return err
		}
		return c.SetLeftControlsHover(*req.Value)
	case "focus":
		if err := need(req.Value != nil, "value"); err != nil {
			return err
		}
		return c.SetFocused(*req.Value)
	case "clear_caption":
		return c.ClearCaption()
	default:
		return fmt.Errorf("%w: unknown command %q", errBadRequest, req.Command)
	}
}
