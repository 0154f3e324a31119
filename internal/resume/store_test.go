// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resume

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSqliteStore(context.Background(), filepath.Join(t.TempDir(), "resume.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	updated := time.Date(2025, 3, 1, 20, 15, 0, 0, time.UTC)

	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			movie := Key{MediaID: "movie-1"}
			ep := Key{MediaID: "show-1", EpisodeID: "s01e02"}

			got, err := s.Get(ctx, movie)
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, s.Put(ctx, movie, &State{Position: 90 * time.Second, Duration: 2 * time.Hour, UpdatedAt: updated}))
			require.NoError(t, s.Put(ctx, ep, &State{Position: 10 * time.Second, Duration: 40 * time.Minute, UpdatedAt: updated}))
			require.NoError(t, s.Put(ctx, ep, &State{Position: 39 * time.Minute, Duration: 40 * time.Minute, Finished: true, UpdatedAt: updated}))

			got, err = s.Get(ctx, movie)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 90*time.Second, got.Position)
			assert.Equal(t, 2*time.Hour, got.Duration)
			assert.True(t, got.UpdatedAt.Equal(updated))
			assert.True(t, got.Resumable())

			got, err = s.Get(ctx, ep)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 39*time.Minute, got.Position)
			assert.True(t, got.Finished)
			assert.False(t, got.Resumable())

			require.NoError(t, s.Delete(ctx, movie))
			got, err = s.Get(ctx, movie)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestSqliteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "resume.sqlite")

	s, err := NewSqliteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Key{MediaID: "m"}, &State{Position: time.Minute, UpdatedAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = NewSqliteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, Key{MediaID: "m"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Minute, got.Position)
}

func TestNewStore_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(ctx, BackendMemory, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	dir := t.TempDir()
	s, err = NewStore(ctx, "", dir)
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, s)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, "resume.sqlite"))

	_, err = NewStore(ctx, "badger", dir)
	require.ErrorContains(t, err, "unknown resume store backend")
}

func TestMemoryStore_ClosedRejectsWrites(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Put(context.Background(), Key{MediaID: "m"}, &State{}), errClosed)
}

func TestIsFinished(t *testing.T) {
	tests := []struct {
		pos, dur time.Duration
		want     bool
	}{
		{pos: 95 * time.Second, dur: 100 * time.Second, want: true},
		{pos: 94 * time.Second, dur: 100 * time.Second, want: false},
		{pos: time.Hour, dur: 0, want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsFinished(tt.pos, tt.dur), "pos=%s dur=%s", tt.pos, tt.dur)
	}
	assert.Equal(t, "show/e1", Key{MediaID: "show", EpisodeID: "e1"}.String())
	assert.True(t, Key{EpisodeID: "e1"}.IsZero())
}
