// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package state

import (
	"slices"
	"time"
)

// CaptionSelection is the caption currently applied to playback.
type CaptionSelection struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// Empty reports whether no caption is selected.
func (c CaptionSelection) Empty() bool { return c.ID == "" }

// ControlsState is the command target of one player. UI fragments observe
// its effects mostly through Interface and Meta.
type ControlsState struct {
	Playing  bool             `json:"playing"`
	Position time.Duration    `json:"position"`
	Duration time.Duration    `json:"duration"`
	Volume   float64          `json:"volume"`
	Caption  CaptionSelection `json:"caption"`
}

func (ControlsState) Kind() Kind { return KindControls }
func (ControlsState) isSlice()   {}

// LoadStatus mirrors the caption coordinator status for loading indicators.
type LoadStatus string

const (
	LoadIdle    LoadStatus = "idle"
	LoadLoading LoadStatus = "loading"
	LoadApplied LoadStatus = "applied"
	LoadFailed  LoadStatus = "failed"
)

// CaptionLoadState is the UI-facing view of the latest caption load.
type CaptionLoadState struct {
	Status    LoadStatus `json:"status"`
	CaptionID string     `json:"caption_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// InterfaceState is ephemeral view state. At most one popout is open.
type InterfaceState struct {
	Popout            string           `json:"popout,omitempty"`
	LeftControlsHover bool             `json:"left_controls_hover"`
	Focused           bool             `json:"focused"`
	CaptionLoad       CaptionLoadState `json:"caption_load"`
}

func (InterfaceState) Kind() Kind { return KindInterface }
func (InterfaceState) isSlice()   {}

// CaptionTrack is one subtitle track offered by the media item.
type CaptionTrack struct {
	LangISO string `json:"lang" yaml:"lang"`
	URL     string `json:"url" yaml:"url"`
	Linked  bool   `json:"linked,omitempty" yaml:"linked,omitempty"`
}

// MediaKind distinguishes single items from episodic ones.
type MediaKind string

const (
	MediaMovie MediaKind = "movie"
	MediaShow  MediaKind = "show"
)

// Episode identifies the current episode of a show.
type Episode struct {
	EpisodeID string `json:"episode_id"`
	SeasonID  string `json:"season_id,omitempty"`
	Number    int    `json:"number,omitempty"`
	Title     string `json:"title,omitempty"`
}

// MetaState describes the loaded media item. It is replaced wholesale
// whenever the item changes.
type MetaState struct {
	MediaID  string         `json:"media_id,omitempty"`
	Title    string         `json:"title,omitempty"`
	Type     MediaKind      `json:"type,omitempty"`
	Episode  *Episode       `json:"episode,omitempty"`
	Captions []CaptionTrack `json:"captions,omitempty"`
}

func (MetaState) Kind() Kind { return KindMeta }
func (MetaState) isSlice()   {}

// EpisodeID returns the current episode id or "".
func (m MetaState) EpisodeID() string {
	if m.Episode == nil {
		return ""
	}
	return m.Episode.EpisodeID
}

// Clone returns a deep copy so callers cannot alias store-owned memory.
func (m MetaState) Clone() MetaState {
	out := m
	if m.Episode != nil {
		ep := *m.Episode
		out.Episode = &ep
	}
	out.Captions = slices.Clone(m.Captions)
	return out
}

// Equal reports deep equality.
func (m MetaState) Equal(o MetaState) bool {
	if m.MediaID != o.MediaID || m.Title != o.Title || m.Type != o.Type {
		return false
	}
	switch {
	case m.Episode == nil && o.Episode == nil:
	case m.Episode == nil || o.Episode == nil:
		return false
	case *m.Episode != *o.Episode:
		return false
	}
	return slices.Equal(m.Captions, o.Captions)
}

// SourceType is the container/protocol of the active source.
type SourceType string

const (
	SourceMP4 SourceType = "mp4"
	SourceHLS SourceType = "hls"
)

// SourceState is the active media source.
type SourceState struct {
	URL     string     `json:"url,omitempty" yaml:"url"`
	Type    SourceType `json:"type,omitempty" yaml:"type,omitempty"`
	Quality string     `json:"quality,omitempty" yaml:"quality,omitempty"`
}

func (SourceState) Kind() Kind { return KindSource }
func (SourceState) isSlice()   {}

// Equal reports whether two slices of the same kind hold the same value.
func Equal(a, b Slice) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case ControlsState:
		return av == b.(ControlsState)
	case InterfaceState:
		return av == b.(InterfaceState)
	case MetaState:
		return av.Equal(b.(MetaState))
	case SourceState:
		return av == b.(SourceState)
	}
	return false
}

// Clone copies a slice value, detaching any referenced memory.
func Clone(s Slice) Slice {
	if m, ok := s.(MetaState); ok {
		return m.Clone()
	}
	return s
}
