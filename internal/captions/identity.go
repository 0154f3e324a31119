// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package captions

import (
	"strings"

	"github.com/ManuGH/playerstate/internal/player/state"
	"golang.org/x/text/cases"
)

// CaptionID derives the identity of a track as it is shown in Controls.
// Tracks that ship with the media are "linked"; user supplied ones are
// "external".
func CaptionID(track state.CaptionTrack, linked bool) string {
	prefix := "external-"
	if linked {
		prefix = "linked-"
	}
	return prefix + strings.ToLower(strings.TrimSpace(track.LangISO))
}

// EpisodeKey identifies the episode an auto load belongs to. It is empty for
// media without an episode, which never auto loads.
func EpisodeKey(meta state.MetaState) string {
	return meta.EpisodeID()
}

// mediaKey identifies the loaded media item including its episode. A caption
// load only applies while the key it was issued under is still current.
func mediaKey(meta state.MetaState) string {
	return meta.MediaID + "/" + meta.EpisodeID()
}

// AutoLoadDecision picks the track to load automatically for meta. It returns
// the first track whose language starts with prefix (case-insensitive), as
// long as the episode has not been triggered yet. It has no side effects.
func AutoLoadDecision(meta state.MetaState, triggered map[string]struct{}, prefix string) (state.CaptionTrack, bool) {
	key := EpisodeKey(meta)
	if key == "" || prefix == "" {
		return state.CaptionTrack{}, false
	}
	if _, done := triggered[key]; done {
		return state.CaptionTrack{}, false
	}
	fold := cases.Fold()
	want := fold.String(prefix)
	for _, t := range meta.Captions {
		if t.URL == "" {
			continue
		}
		if strings.HasPrefix(fold.String(t.LangISO), want) {
			return t, true
		}
	}
	return state.CaptionTrack{}, false
}
