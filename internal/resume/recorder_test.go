// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resume

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/playerstate/internal/player/controls"
	"github.com/ManuGH/playerstate/internal/player/descriptor"
	"github.com/ManuGH/playerstate/internal/player/state"
	pstore "github.com/ManuGH/playerstate/internal/player/store"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorderHarness struct {
	ps   *pstore.Store
	d    descriptor.Descriptor
	ctrl controls.Controls
	clk  *clock.Mock
}

func newRecorderHarness(t *testing.T, meta state.MetaState) *recorderHarness {
	t.Helper()
	ps := pstore.New()
	d := descriptor.NewRegistry().Mint()
	require.NoError(t, ps.Create(d))
	t.Cleanup(func() { _ = ps.Destroy(d) })
	if meta.MediaID != "" {
		require.NoError(t, ps.Update(d, func(tx *pstore.Tx) error {
			tx.ReplaceMeta(meta)
			return nil
		}))
	}
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &recorderHarness{ps: ps, d: d, ctrl: controls.For(ps, d), clk: clk}
}

func (h *recorderHarness) start(t *testing.T, rs Store) *Recorder {
	t.Helper()
	r, err := StartRecorder(context.Background(), h.ps, h.d, rs, WithRecorderClock(h.clk), WithSaveInterval(time.Hour))
	require.NoError(t, err)
	return r
}

func TestRecorder_SavesPausedPosition(t *testing.T) {
	meta := state.MetaState{MediaID: "show-1", Type: state.MediaShow, Episode: &state.Episode{EpisodeID: "e3"}}
	h := newRecorderHarness(t, meta)
	rs := NewMemoryStore()
	r := h.start(t, rs)

	require.NoError(t, h.ctrl.Play())
	require.NoError(t, h.ctrl.ReportTime(30*time.Second, 100*time.Second))
	require.NoError(t, h.ctrl.Pause())
	r.Stop()

	got, err := rs.Get(context.Background(), Key{MediaID: "show-1", EpisodeID: "e3"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 30*time.Second, got.Position)
	assert.Equal(t, 100*time.Second, got.Duration)
	assert.False(t, got.Finished)
	assert.True(t, got.UpdatedAt.Equal(h.clk.Now()))
}

func TestRecorder_MarksFinished(t *testing.T) {
	h := newRecorderHarness(t, state.MetaState{MediaID: "movie-1", Type: state.MediaMovie})
	rs := NewMemoryStore()
	r := h.start(t, rs)

	require.NoError(t, h.ctrl.ReportTime(96*time.Second, 100*time.Second))
	r.Stop()

	got, err := rs.Get(context.Background(), Key{MediaID: "movie-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Finished)
	assert.False(t, got.Resumable())
}

func TestRecorder_NothingToSave(t *testing.T) {
	h := newRecorderHarness(t, state.MetaState{})
	rs := &countingStore{Store: NewMemoryStore()}
	r := h.start(t, rs)

	require.NoError(t, h.ctrl.ReportTime(20*time.Second, time.Minute))
	r.Stop()
	assert.Zero(t, rs.puts.Load())
}

func TestRecorder_StopsWhenPlayerDestroyed(t *testing.T) {
	h := newRecorderHarness(t, state.MetaState{MediaID: "movie-2"})
	rs := NewMemoryStore()
	r := h.start(t, rs)

	require.NoError(t, h.ps.Destroy(h.d))

	select {
	case <-r.done:
	case <-time.After(3 * time.Second):
		t.Fatal("recorder did not exit after destroy")
	}
	r.Stop()

	got, err := rs.Get(context.Background(), Key{MediaID: "movie-2"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecorder_WriteErrorsAreNotFatal(t *testing.T) {
	h := newRecorderHarness(t, state.MetaState{MediaID: "movie-3"})
	rs := &countingStore{Store: NewMemoryStore(), err: errors.New("disk full")}
	r := h.start(t, rs)

	require.NoError(t, h.ctrl.Play())
	require.NoError(t, h.ctrl.ReportTime(5*time.Second, time.Minute))
	require.NoError(t, h.ctrl.Pause())
	r.Stop()
	assert.Positive(t, rs.puts.Load())
}

func TestStartRecorder_UnknownDescriptor(t *testing.T) {
	ps := pstore.New()
	_, err := StartRecorder(context.Background(), ps, descriptor.NewRegistry().Mint(), NewMemoryStore())
	require.ErrorIs(t, err, pstore.ErrUnknownDescriptor)
}

type countingStore struct {
	Store
	puts atomic.Int32
	err  error
}

func (s *countingStore) Put(ctx context.Context, key Key, st *State) error {
	s.puts.Add(1)
	if s.err != nil {
		return s.err
	}
	return s.Store.Put(ctx, key, st)
}
