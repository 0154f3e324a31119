// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package controls is the typed command surface of a player. Every command
// is one serialized store transaction on the player's descriptor.
package controls

import (
	"context"
	"math"
	"time"

	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/ManuGH/playerstate/internal/player/store"
)

// Controls issues commands against one player instance.
type Controls struct {
	s *store.Store
	d descriptor.Descriptor
}

// For binds the command surface to d.
func For(s *store.Store, d descriptor.Descriptor) Controls {
	return Controls{s: s, d: d}
}

// FromContext binds the command surface to the player instance of ctx.
// It panics outside a player instance.
func FromContext(ctx context.Context, s *store.Store) Controls {
	return For(s, descriptor.MustFromContext(ctx))
}

// Descriptor returns the player the commands are bound to.
func (c Controls) Descriptor() descriptor.Descriptor { return c.d }

func (c Controls) controls(fn func(*state.ControlsState)) error {
	return c.s.Update(c.d, func(tx *store.Tx) error {
		fn(tx.Controls())
		return nil
	})
}

func (c Controls) iface(fn func(*state.InterfaceState)) error {
	return c.s.Update(c.d, func(tx *store.Tx) error {
		fn(tx.Interface())
		return nil
	})
}

func (c Controls) Play() error {
	return c.controls(func(cs *state.ControlsState) { cs.Playing = true })
}

func (c Controls) Pause() error {
	return c.controls(func(cs *state.ControlsState) { cs.Playing = false })
}

// Seek moves the playhead, clamped to [0, duration] when the duration is known.
func (c Controls) Seek(pos time.Duration) error {
	return c.controls(func(cs *state.ControlsState) { cs.Position = clampPosition(pos, cs.Duration) })
}

// ReportTime is called by the media element bridge as playback advances.
func (c Controls) ReportTime(pos, duration time.Duration) error {
	return c.controls(func(cs *state.ControlsState) {
		if duration > 0 {
			cs.Duration = duration
		}
		cs.Position = clampPosition(pos, cs.Duration)
	})
}

// SetVolume sets the volume, clamped to [0, 1].
func (c Controls) SetVolume(v float64) error {
	switch {
	case v < 0 || math.IsNaN(v):
		v = 0
	case v > 1:
		v = 1
	}
	return c.controls(func(cs *state.ControlsState) { cs.Volume = v })
}

func (c Controls) SetCaption(id, url string) error {
	return c.controls(func(cs *state.ControlsState) {
		cs.Caption = state.CaptionSelection{ID: id, URL: url}
	})
}

func (c Controls) ClearCaption() error {
	return c.controls(func(cs *state.ControlsState) { cs.Caption = state.CaptionSelection{} })
}

// CommitCaption applies a loaded caption and resumes playback in one
// transaction. With closePopout the open popout closes in the same commit,
// so no subscriber can observe the caption applied with the popout still open.
func (c Controls) CommitCaption(id, url string, closePopout bool) error {
	return c.s.Update(c.d, func(tx *store.Tx) error {
		cs := tx.Controls()
		cs.Caption = state.CaptionSelection{ID: id, URL: url}
		cs.Playing = true

		is := tx.Interface()
		is.CaptionLoad = state.CaptionLoadState{Status: state.LoadApplied, CaptionID: id}
		if closePopout {
			is.Popout = ""
		}
		return nil
	})
}

// OpenPopout opens name. Opening the already open popout is a no-op; any
// other open popout is replaced.
func (c Controls) OpenPopout(name string) error {
	return c.iface(func(is *state.InterfaceState) { is.Popout = name })
}

// ClosePopout clears the open popout, if any.
func (c Controls) ClosePopout() error {
	return c.iface(func(is *state.InterfaceState) { is.Popout = "" })
}

func (c Controls) SetLeftControlsHover(hover bool) error {
	return c.iface(func(is *state.InterfaceState) { is.LeftControlsHover = hover })
}

func (c Controls) SetFocused(focused bool) error {
	return c.iface(func(is *state.InterfaceState) { is.Focused = focused })
}

// SetSource switches the active media source.
func (c Controls) SetSource(src state.SourceState) error {
	return c.s.Update(c.d, func(tx *store.Tx) error {
		*tx.Source() = src
		return nil
	})
}

func clampPosition(pos, duration time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}
