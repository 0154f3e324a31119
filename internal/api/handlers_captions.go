// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/playerstate/internal/captions"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/go-chi/chi/v5"
)

type loadCaptionRequest struct {
	Lang   string `json:"lang"`
	URL    string `json:"url"`
	Linked bool   `json:"linked,omitempty"`
}

type loadCaptionResponse struct {
	Token     uint64 `json:"token"`
	CaptionID string `json:"caption_id"`
}

func (s *Server) handleLoadCaption(w http.ResponseWriter, r *http.Request) {
	var req loadCaptionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Lang) == "" {
		writeError(w, r, fmt.Errorf("%w: lang and url are required", errBadRequest))
		return
	}
	track := state.CaptionTrack{LangISO: req.Lang, URL: req.URL, Linked: req.Linked}
	d := descriptor.MustFromContext(r.Context())
	token, err := s.player.Coordinator().IssueLoad(r.Context(), d, track, req.Linked)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, loadCaptionResponse{Token: token, CaptionID: captions.CaptionID(track, req.Linked)})
}

type captionStatusResponse struct {
	State     captions.LoadState `json:"state"`
	Token     uint64             `json:"token"`
	CaptionID string             `json:"caption_id,omitempty"`
	Trigger   string             `json:"trigger,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func (s *Server) handleCaptionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.player.Coordinator().Status(descriptor.MustFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := captionStatusResponse{State: st.State, Token: st.Token, CaptionID: st.CaptionID, Trigger: st.Trigger}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	b, err := s.player.Blobs().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", b.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Content)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b.Content)
}
