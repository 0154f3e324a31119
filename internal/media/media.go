// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package media resolves media items to the Meta and Source slices a
// player loads.
package media

import (
	"context"
	"errors"

	"github.com/ManuGH/playerstate/internal/player/state"
)

var ErrNotFound = errors.New("media item not found")

// MetaProvider describes a media item. episodeID is empty for movies.
type MetaProvider interface {
	Meta(ctx context.Context, mediaID, episodeID string) (state.MetaState, error)
}

// SourceResolver picks the playable source of a media item.
type SourceResolver interface {
	Resolve(ctx context.Context, mediaID, episodeID string) (state.SourceState, error)
}
