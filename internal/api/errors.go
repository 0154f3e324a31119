// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/playerstate/internal/blob"
	"github.com/ManuGH/playerstate/internal/captions"
	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/media"
	"github.com/ManuGH/playerstate/internal/player"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
)

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, label := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, descriptor.ErrInvalidDescriptor):
		code, label = http.StatusBadRequest, "bad_request"
	case errors.Is(err, descriptor.ErrUnknownDescriptor), errors.Is(err, captions.ErrNotAttached):
		code, label = http.StatusNotFound, "player_not_found"
	case errors.Is(err, media.ErrNotFound):
		code, label = http.StatusNotFound, "media_not_found"
	case errors.Is(err, blob.ErrNotFound):
		code, label = http.StatusNotFound, "blob_not_found"
	case errors.Is(err, player.ErrShutdown):
		code, label = http.StatusServiceUnavailable, "shutting_down"
	}

	body := errorBody{Error: label, Detail: err.Error(), RequestID: xglog.RequestIDFromContext(r.Context())}
	if code >= 500 {
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(xglog.FieldEvent, "api.error").Msg("request failed")
		body.Detail = ""
	}
	writeJSON(w, code, body)
}
