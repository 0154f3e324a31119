// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package player

import (
	"context"
	"fmt"
	"sync"

	xglog "github.com/ManuGH/playerstate/internal/log"
	"github.com/ManuGH/playerstate/internal/player/controls"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	"github.com/ManuGH/playerstate/internal/player/store"
	"github.com/ManuGH/playerstate/internal/resume"
)

// Instance is one mounted player.
type Instance struct {
	p        *Player
	d        descriptor.Descriptor
	ctx      context.Context
	recorder *resume.Recorder

	once sync.Once
}

func (in *Instance) Descriptor() descriptor.Descriptor { return in.d }

// Context carries the instance descriptor for every component mounted
// inside this player.
func (in *Instance) Context() context.Context { return in.ctx }

func (in *Instance) Controls() controls.Controls {
	return controls.For(in.p.deps.Store, in.d)
}

// Unmount tears the instance down. The coordinator is detached first so no
// timer or load can write to the slices while they are destroyed. Calling
// Unmount again is a no-op.
func (in *Instance) Unmount() {
	in.once.Do(func() {
		p := in.p
		p.coord.Detach(in.d)
		if in.recorder != nil {
			in.recorder.Stop()
		}
		if err := p.deps.Store.Destroy(in.d); err != nil {
			p.logger.Warn().Err(err).Str(xglog.FieldDescriptor, in.d.String()).Msg("destroy slices")
		}
		revoked := p.deps.Blobs.RevokeOwner(in.d)
		p.registry.Release(in.d)
		p.forget(in.d)

		p.logger.Info().
			Str(xglog.FieldEvent, "player.unmounted").
			Str(xglog.FieldDescriptor, in.d.String()).
			Int("blobs_revoked", revoked).
			Msg("player instance unmounted")
	})
}

// LoadMedia replaces Meta and Source with the given item, resets playback
// and restores a saved position when one is resumable.
func (in *Instance) LoadMedia(ctx context.Context, mediaID, episodeID string) error {
	p := in.p
	meta, err := p.deps.Meta.Meta(ctx, mediaID, episodeID)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	src, err := p.deps.Sources.Resolve(ctx, mediaID, meta.EpisodeID())
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}

	var saved *resume.State
	if p.deps.Resume != nil {
		saved, err = p.deps.Resume.Get(ctx, resume.Key{MediaID: meta.MediaID, EpisodeID: meta.EpisodeID()})
		if err != nil {
			xglog.WithContext(ctx, p.logger).Warn().Err(err).
				Str(xglog.FieldMediaID, mediaID).
				Msg("resume position unavailable")
			saved = nil
		}
	}

	err = p.deps.Store.Update(in.d, func(tx *store.Tx) error {
		tx.ReplaceMeta(meta)
		*tx.Source() = src
		cs := tx.Controls()
		cs.Playing = false
		cs.Position = 0
		cs.Duration = 0
		cs.Caption = state.CaptionSelection{}
		if saved.Resumable() {
			cs.Duration = saved.Duration
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	if saved.Resumable() {
		if err := in.Controls().Seek(saved.Position); err != nil {
			return fmt.Errorf("load media: restore position: %w", err)
		}
	}

	xglog.WithContext(ctx, p.logger).Info().
		Str(xglog.FieldEvent, "player.media_loaded").
		Str(xglog.FieldDescriptor, in.d.String()).
		Str(xglog.FieldMediaID, meta.MediaID).
		Str(xglog.FieldEpisodeID, meta.EpisodeID()).
		Bool("resumed", saved.Resumable()).
		Msg("media loaded")
	return nil
}
